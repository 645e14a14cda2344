package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := ErrWorkflowNotFound("wf-123")
	if !strings.Contains(err.Error(), "wf-123") {
		t.Errorf("error string missing id: %s", err.Error())
	}
	if !strings.Contains(err.Error(), err.Why) {
		t.Errorf("error string missing why: %s", err.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	a := ErrWorkflowNotFound("wf-1")
	b := ErrWorkflowNotFound("wf-2")
	if !stderrors.Is(a, b) {
		t.Error("errors with the same code should match via errors.Is")
	}

	c := ErrMilestoneNotFound("ms-1")
	if stderrors.Is(a, c) {
		t.Error("errors with different codes should not match")
	}
}

func TestUnwrapAndHasCode(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("FOREIGN KEY constraint failed")
	err := ErrStoreConstraint("log action for missing workflow", "create the workflow first", cause)

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
	if !HasCode(err, CodeStoreConstraint) {
		t.Error("HasCode should find the constraint code")
	}
	if HasCode(err, CodeWorkflowNotFound) {
		t.Error("HasCode should not match a different code")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if AsWaymarkError(wrapped) == nil {
		t.Error("AsWaymarkError should unwrap nested errors")
	}
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	err := ErrMetadataInvalid("gate-1-issue-reviewed", fmt.Errorf("unsupported type"))
	msg := err.UserMessage()
	if !strings.Contains(msg, "Why:") || !strings.Contains(msg, "Fix:") {
		t.Errorf("user message missing sections: %s", msg)
	}
}
