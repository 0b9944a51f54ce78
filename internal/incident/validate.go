package incident

import (
	"strings"

	"github.com/linnemanlabs/aegis/internal/fault"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxCommentLen     = 1000
)

func validationErr(format string, args ...any) error {
	return fault.Newf(fault.KindValidation, format, args...)
}

// ValidateDeclaration checks the create input. P0 declarations must carry a
// description: the highest band is never declared without context for the
// responders being paged.
func ValidateDeclaration(title, description string, severity Severity) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fault.New(fault.KindValidation, "title is required")
	}
	if len(title) > maxTitleLen {
		return fault.Newf(fault.KindValidation, "title exceeds %d characters", maxTitleLen)
	}
	if len(description) > maxDescriptionLen {
		return fault.Newf(fault.KindValidation, "description exceeds %d characters", maxDescriptionLen)
	}
	if !ValidSeverity(severity) {
		return fault.Newf(fault.KindValidation, "unknown severity %q", severity)
	}
	if severity == SeverityP0 && strings.TrimSpace(description) == "" {
		return fault.New(fault.KindValidation, "P0 incidents require a description")
	}
	return nil
}

// ValidateComment checks comment input.
func ValidateComment(authorID, text string) error {
	if strings.TrimSpace(authorID) == "" {
		return fault.New(fault.KindValidation, "author_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return fault.New(fault.KindValidation, "comment text is required")
	}
	if len(text) > maxCommentLen {
		return fault.Newf(fault.KindValidation, "comment exceeds %d characters", maxCommentLen)
	}
	return nil
}

// ValidateParticipant checks participant input.
func ValidateParticipant(userID, name string) error {
	if strings.TrimSpace(userID) == "" {
		return fault.New(fault.KindValidation, "user_id is required")
	}
	if strings.TrimSpace(name) == "" {
		return fault.New(fault.KindValidation, "name is required")
	}
	return nil
}
