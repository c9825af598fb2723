package users

import "errors"

var (
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidProfile      = errors.New("invalid profile payload")
	ErrEmailTaken          = errors.New("email already registered")
	ErrPhoneTaken          = errors.New("phone number already registered")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrEmployeeIDTaken     = errors.New("employee id already registered")
	ErrContactRequired     = errors.New("an email or phone number is required")
	ErrWeakPassword        = errors.New("password must contain upper and lower case letters, a digit and a symbol")
	ErrAdminRegistration   = errors.New("admin accounts cannot self-register")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrAccountSuspended    = errors.New("account is suspended")
	ErrInvalidTwoFactor    = errors.New("invalid two-factor code")
	ErrUserNotFound        = errors.New("user not found")
	ErrNothingToVerify     = errors.New("no unverified contact method found")
	ErrInvalidDateOfBirth  = errors.New("date_of_birth must be YYYY-MM-DD in the past")
	ErrParentContactNeeded = errors.New("minors must name a parent email or phone")
)
