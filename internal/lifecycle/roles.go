package lifecycle

import (
	"fmt"
	"strings"

	"labelflow/internal/domain"
)

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func IsSubmitter(p domain.Project, userID string) bool {
	return userID != "" && p.Submitter == userID
}

func IsLabeler(p domain.Project, userID string) bool {
	return contains(p.Labelers, userID)
}

func IsValidator(p domain.Project, userID string) bool {
	return contains(p.Validators, userID)
}

// AddLabeler appends userID to the labeler set and returns the new set.
func AddLabeler(p *domain.Project, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user id required")
	}
	switch {
	case IsLabeler(*p, userID):
		return nil, fmt.Errorf("%w: %s is already a labeler", ErrAlreadyAssigned, userID)
	case IsSubmitter(*p, userID):
		return nil, fmt.Errorf("%w: submitter cannot label own project", ErrRoleConflict)
	case IsValidator(*p, userID):
		return nil, fmt.Errorf("%w: %s is a validator on this project", ErrRoleConflict, userID)
	}
	p.Labelers = append(p.Labelers, userID)
	return p.Labelers, nil
}

// AddValidator appends userID to the validator set and returns the new set.
func AddValidator(p *domain.Project, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalidInput("user id required")
	}
	switch {
	case IsValidator(*p, userID):
		return nil, fmt.Errorf("%w: %s is already a validator", ErrAlreadyAssigned, userID)
	case IsLabeler(*p, userID):
		return nil, fmt.Errorf("%w: %s labeled this project", ErrSelfValidation, userID)
	case IsSubmitter(*p, userID):
		return nil, fmt.Errorf("%w: submitter cannot validate own project", ErrRoleConflict)
	}
	p.Validators = append(p.Validators, userID)
	return p.Validators, nil
}

func requireSubmitter(p domain.Project, actorID string) error {
	if !IsSubmitter(p, actorID) {
		return RoleError{ActorID: actorID, Role: "submitter"}
	}
	return nil
}

func requireLabeler(p domain.Project, actorID string) error {
	if !IsLabeler(p, actorID) {
		return RoleError{ActorID: actorID, Role: "labeler"}
	}
	return nil
}

func requireValidator(p domain.Project, actorID string) error {
	if !IsValidator(p, actorID) {
		return RoleError{ActorID: actorID, Role: "validator"}
	}
	return nil
}

// requireRoleHolder refuses to put p into a status whose next step needs a
// labeler or validator while that set is empty.
func requireRoleHolder(p domain.Project, s Status) error {
	switch s {
	case StatusLabelingStarted, StatusLabelingOngoing, StatusFilesSubmitted:
		if len(p.Labelers) == 0 {
			return fmt.Errorf("%w: %s needs a labeler; claim the project instead", ErrInvalidTransition, s)
		}
	case StatusValidationStarted, StatusValidationOngoing, StatusInitialValidationCompleted,
		StatusSentBackForFixes, StatusFilesResubmitted, StatusFinalValidationCompleted:
		if len(p.Validators) == 0 {
			return fmt.Errorf("%w: %s needs a validator; claim the project instead", ErrInvalidTransition, s)
		}
	}
	return nil
}
