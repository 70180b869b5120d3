package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

// TopicDoctorScheduleUpdated carries doctor-profile changes that affect slot computation.
const TopicDoctorScheduleUpdated = "doctor.schedule.updated.v1"

// Invalidator drops any cached schedule of a doctor.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID string) error
}

// ErrMalformed marks a message that can never be handled. It is neither retried nor released.
var ErrMalformed = errors.New("malformed event")

type scheduleUpdated struct {
	DoctorID string `json:"doctor_id"`
}

// ScheduleUpdatedHandler invalidates the cached schedule named in a doctor.schedule.updated event.
func ScheduleUpdatedHandler(inv Invalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt scheduleUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("%w: decode schedule update: %v", ErrMalformed, err)
		}
		doctorID := strings.TrimSpace(evt.DoctorID)
		if doctorID == "" {
			return fmt.Errorf("%w: schedule update without doctor_id", ErrMalformed)
		}
		if err := inv.Invalidate(ctx, doctorID); err != nil {
			return fmt.Errorf("invalidate doctor %s: %w", doctorID, err)
		}
		logger.Info("doctor schedule cache invalidated", "doctor_id", doctorID)
		return nil
	}
}
