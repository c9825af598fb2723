package quizzes

import "errors"

var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrInvalidQuiz      = errors.New("invalid quiz")
	ErrNotQuizOwner     = errors.New("not the teacher of this quiz")
	ErrNotPublished     = errors.New("quiz is not published")
	ErrAlreadyPublished = errors.New("quiz is already published")
	ErrNoAccess         = errors.New("quiz belongs to a classroom you are not in")
	ErrUnknownQuestion  = errors.New("answer references an unknown question")
)
