// Package sysgroup is the seam to the privileged OS call that edits admin
// group membership. The daemon treats it as a single idempotent primitive;
// everything about how the OS performs the edit stays behind Membership.
package sysgroup

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Membership adds or removes a user from a group. Implementations must be
// idempotent: enabling an already-member user or disabling a non-member
// succeeds.
type Membership interface {
	SetAdminMembership(ctx context.Context, user string, groupID int, enable bool) error
}

// ExecMembership shells out to dseditgroup, the directory-services group
// editor. The caller bounds the invocation through ctx.
type ExecMembership struct {
	// Path overrides the dseditgroup binary location. Empty uses PATH.
	Path string
}

func (m *ExecMembership) SetAdminMembership(ctx context.Context, user string, groupID int, enable bool) error {
	op := "-a"
	if !enable {
		op = "-d"
	}

	bin := m.Path
	if bin == "" {
		bin = "dseditgroup"
	}

	cmd := exec.CommandContext(ctx, bin, "-o", "edit", op, user, "-t", "user", "-i", strconv.Itoa(groupID))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("dseditgroup %s %s: %w (%s)", op, user, err, string(out))
	}
	return nil
}
