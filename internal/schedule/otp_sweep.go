package schedule

import (
	"context"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/otp"
)

// OTPSweepJob removes expired verification challenges.
type OTPSweepJob struct {
	store otp.Store
}

func NewOTPSweepJob(store otp.Store) *OTPSweepJob {
	return &OTPSweepJob{store: store}
}

func (j *OTPSweepJob) Name() string { return "otp_sweep" }

func (j *OTPSweepJob) Run(ctx context.Context) error {
	n, err := j.store.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.FromContext(ctx).Info("expired challenges removed", zap.Int("count", n))
	}
	return nil
}
