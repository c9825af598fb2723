package privacy

import "errors"

var ErrInvalidSettings = errors.New("invalid privacy settings")
