package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// Completer marks a booking completed on behalf of actor.
type Completer interface {
	CompleteBooking(ctx context.Context, actor model.Actor, bookingID string) (model.BookingRequest, error)
}

type completionCommand struct {
	BookingID  string `json:"booking_id"`
	ProviderID string `json:"provider_id"`
}

// CompletionHandler completes bookings named by messages on the completion
// topic. Bookings that are not yet due or no longer accepted are logged and
// dropped so a stale command never blocks the partition.
func CompletionHandler(c Completer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var cmd completionCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return fmt.Errorf("decode completion command: %w", err)
		}
		cmd.BookingID = strings.TrimSpace(cmd.BookingID)
		if cmd.BookingID == "" {
			return errors.New("completion command missing booking_id")
		}

		actor := model.SystemActor
		if cmd.ProviderID != "" {
			actor = model.ProviderActor(cmd.ProviderID)
		}
		b, err := c.CompleteBooking(ctx, actor, cmd.BookingID)
		switch {
		case err == nil:
			logger.Info("booking completed", "booking_id", b.ID, "provider_id", b.ProviderID)
			return nil
		case errors.Is(err, model.ErrNotDue), errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNotFound):
			logger.Warn("completion command skipped", "booking_id", cmd.BookingID, "err", err)
			return nil
		}
		return err
	}
}
