package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDEEM REWARD COMMAND
// Spends a student's exchange credit on a catalogue reward.
// ══════════════════════════════════════════════════════════════════════════════

// RedeemRewardCommand identifies the student, the reward and who approved it.
type RedeemRewardCommand struct {
	ClassID   string
	StudentID string
	RewardID  string
	Operator  string
}

// Validate checks the identifiers.
func (c RedeemRewardCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	if err := requireStudentID("RedeemReward", c.StudentID); err != nil {
		return err
	}
	if c.RewardID == "" {
		return shared.NewDomainError("command", "RedeemReward", shared.ErrEmptyValue, "reward id is required")
	}
	return nil
}

// RedeemRewardResult contains the exchange record and the updated student.
type RedeemRewardResult struct {
	Exchange reward.Exchange
	Student  student.Student
}

// RedeemRewardHandler handles RedeemRewardCommand.
type RedeemRewardHandler struct {
	deps Deps
}

// NewRedeemRewardHandler creates a handler.
func NewRedeemRewardHandler(deps Deps) *RedeemRewardHandler {
	return &RedeemRewardHandler{deps: deps.withDefaults("redeem_reward")}
}

// Handle executes the command. On any failure neither stock nor credit changes.
func (h *RedeemRewardHandler) Handle(ctx context.Context, cmd RedeemRewardCommand) (*RedeemRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	ex, err := class.Redeem(cmd.StudentID, cmd.RewardID, cmd.Operator)
	h.deps.Metrics.RecordRedemption(redemptionOutcome(err))
	if err != nil {
		h.deps.Logger.Info("redemption refused",
			logger.ClassID(cmd.ClassID),
			logger.StudentID(cmd.StudentID),
			logger.RewardID(cmd.RewardID),
			logger.Err(err),
		)
		return nil, err
	}

	s, err := class.Ledger.Get(cmd.StudentID)
	if err != nil {
		// Deleted between the debit and this read.
		return nil, err
	}

	event := shared.NewRewardRedeemedEvent(cmd.ClassID, cmd.StudentID, cmd.RewardID, ex.Cost)
	if err := h.deps.commit(ctx, cmd.ClassID, event); err != nil {
		return nil, err
	}

	h.deps.Logger.Info("reward redeemed",
		logger.ClassID(cmd.ClassID),
		logger.StudentID(cmd.StudentID),
		logger.RewardID(cmd.RewardID),
		logger.Int("cost", ex.Cost),
		logger.Operator(cmd.Operator),
	)
	return &RedeemRewardResult{Exchange: ex, Student: *s}, nil
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, shared.ErrOutOfStock):
		return "out_of_stock"
	default:
		return "error"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MANAGE REWARD COMMAND
// Adds, edits or removes catalogue entries.
// ══════════════════════════════════════════════════════════════════════════════

// RewardAction selects the catalogue operation.
type RewardAction string

const (
	RewardAdd    RewardAction = "add"
	RewardUpdate RewardAction = "update"
	RewardRemove RewardAction = "remove"
)

// ManageRewardCommand changes the reward catalogue of a class.
type ManageRewardCommand struct {
	ClassID  string
	Action   RewardAction
	RewardID string
	Input    reward.Input
}

// Validate checks the action and its required fields.
func (c ManageRewardCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	switch c.Action {
	case RewardAdd:
		return c.Input.Validate()
	case RewardUpdate:
		if c.RewardID == "" {
			return shared.NewDomainError("command", "ManageReward", shared.ErrEmptyValue, "reward id is required")
		}
		return c.Input.Validate()
	case RewardRemove:
		if c.RewardID == "" {
			return shared.NewDomainError("command", "ManageReward", shared.ErrEmptyValue, "reward id is required")
		}
		return nil
	default:
		return shared.NewDomainError("command", "ManageReward", shared.ErrInvalidArgument,
			fmt.Sprintf("unknown reward action %q", c.Action))
	}
}

// ManageRewardResult holds the saved reward. It is zero for removals.
type ManageRewardResult struct {
	Reward reward.Reward
}

// ManageRewardHandler handles ManageRewardCommand.
type ManageRewardHandler struct {
	deps Deps
}

// NewManageRewardHandler creates a handler.
func NewManageRewardHandler(deps Deps) *ManageRewardHandler {
	return &ManageRewardHandler{deps: deps.withDefaults("manage_reward")}
}

// Handle executes the command.
func (h *ManageRewardHandler) Handle(ctx context.Context, cmd ManageRewardCommand) (*ManageRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	var r reward.Reward
	switch cmd.Action {
	case RewardAdd:
		r, err = class.Rewards.Add(cmd.Input)
	case RewardUpdate:
		r, err = class.Rewards.Update(cmd.RewardID, cmd.Input)
	case RewardRemove:
		err = class.Rewards.Remove(cmd.RewardID)
	}
	if err != nil {
		return nil, err
	}

	if err := h.deps.commit(ctx, cmd.ClassID); err != nil {
		return nil, err
	}

	id := r.ID
	if id == "" {
		id = cmd.RewardID
	}
	h.deps.Logger.Info("reward catalogue changed",
		logger.ClassID(cmd.ClassID),
		logger.RewardID(id),
		logger.Operation(string(cmd.Action)),
	)
	return &ManageRewardResult{Reward: r}, nil
}
