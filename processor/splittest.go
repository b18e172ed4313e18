package processor

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// SplitTest deterministically assigns a contact to a variant and delegates
// the send to the message processor. Assignment hashes the contact ID, so
// re-evaluating for the same contact always picks the same variant.
type SplitTest struct {
	message *Message
	logger  *slog.Logger
}

// NewSplitTest wires the split-test processor over the message processor
func NewSplitTest(message *Message, logger *slog.Logger) *SplitTest {
	if logger == nil {
		logger = slog.Default()
	}
	return &SplitTest{message: message, logger: logger}
}

// Kind returns the step kind this processor handles
func (p *SplitTest) Kind() workflow.StepKind {
	return workflow.KindSplitTest
}

// Process assigns the variant and sends its content
func (p *SplitTest) Process(ctx context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	variant, err := AssignVariant(step.SplitTest, exec.ContactID)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Split test variant assigned",
		"execution_id", exec.ID, "step_id", step.ID,
		"contact_id", exec.ContactID, "variant", variant.Name)

	return p.message.send(ctx, &variant.Message, variant.Name, step, exec, def)
}

// AssignVariant maps a contact onto a variant: FNV-1a hash of the contact
// ID modulo 100, compared against cumulative percentages in variant order.
func AssignVariant(cfg *workflow.SplitTestConfig, contactID string) (*workflow.Variant, error) {
	bucket := Bucket(contactID)

	cumulative := 0
	for i := range cfg.Variants {
		cumulative += cfg.Variants[i].Percent
		if bucket < cumulative {
			return &cfg.Variants[i], nil
		}
	}

	// Unreachable when percentages sum to 100, which validation enforces.
	return nil, errors.WrapFatal(
		fmt.Errorf("bucket %d not covered by variant percentages", bucket),
		"SplitTest", "AssignVariant", "map bucket to variant")
}

// Bucket hashes a contact ID into [0, 100)
func Bucket(contactID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(contactID))
	return int(h.Sum32() % 100)
}
