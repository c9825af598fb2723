package classrooms

import "errors"

var (
	ErrClassroomNotFound   = errors.New("classroom not found")
	ErrClassroomFull       = errors.New("classroom is full")
	ErrClassroomInactive   = errors.New("classroom is not accepting students")
	ErrAlreadyMember       = errors.New("student already joined this classroom")
	ErrAlreadyTeacher      = errors.New("teacher already assigned to this classroom")
	ErrNotOwner            = errors.New("only the owning teacher may do this")
	ErrNotClassroomTeacher = errors.New("not a teacher of this classroom")
	ErrNotTeacher          = errors.New("user is not a teacher")
	ErrNoAccess            = errors.New("not a member of this classroom")
	ErrCapacityTooLow      = errors.New("max students is below current enrollment")
	ErrInvalidRequest      = errors.New("invalid classroom request")
)

// errCodeTaken signals a join code collision; Create retries with a new code.
var errCodeTaken = errors.New("classroom code taken")
