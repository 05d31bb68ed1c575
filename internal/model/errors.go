package model

import (
	"errors"
)

var (
	ErrDuplicateName = errors.New("duplicate program name")
	ErrUnknownFormat = errors.New("unknown report format")
)
