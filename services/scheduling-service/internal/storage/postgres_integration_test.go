//go:build integration

package storage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
)

var monday = civil.Date{Year: 2030, Month: time.January, Day: 7}

// openPostgres migrates the database named by DATABASE_URL and returns a store
// plus a provider id no other test uses.
func openPostgres(t *testing.T) (*storage.Postgres, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := storage.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := storage.NewPostgres(pool)
	providerID := "it-" + uuid.NewString()
	err = store.InTx(ctx, providerID, func(tx storage.Tx) error {
		return tx.UpsertProvider(ctx, model.Provider{ID: providerID, Timezone: "UTC", UpdatedAt: time.Now().UTC()})
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return store, providerID
}

func pendingBooking(providerID string, start int) model.BookingRequest {
	now := time.Now().UTC()
	return model.BookingRequest{
		ID: uuid.NewString(), ProviderID: providerID, ClientID: "client-1",
		Date: monday, Start: start, Duration: 60, Status: model.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestPostgresTxWaitsForProviderLock(t *testing.T) {
	store, providerID := openPostgres(t)
	ctx := context.Background()

	entered := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- store.InTx(ctx, providerID, func(tx storage.Tx) error {
			close(entered)
			// Hold the lock long enough for the second tx to queue behind it.
			time.Sleep(300 * time.Millisecond)
			return tx.InsertBooking(ctx, pendingBooking(providerID, 600))
		})
	}()

	<-entered
	var seen int
	err := store.InTx(ctx, providerID, func(tx storage.Tx) error {
		got, err := tx.ListBookings(ctx, providerID, monday, monday)
		seen = len(got)
		return err
	})
	if err != nil {
		t.Fatalf("second tx: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first tx: %v", err)
	}
	if seen != 1 {
		t.Fatalf("second tx ran before the first committed: saw %d bookings", seen)
	}
}

func TestPostgresFailedTxRollsBack(t *testing.T) {
	store, providerID := openPostgres(t)
	ctx := context.Background()
	b := pendingBooking(providerID, 600)

	boom := errors.New("boom")
	err := store.InTx(ctx, providerID, func(tx storage.Tx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := store.GetBooking(ctx, b.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected rolled back booking to be missing, got %v", err)
	}
}

func TestPostgresMessagesAreSequenced(t *testing.T) {
	store, providerID := openPostgres(t)
	ctx := context.Background()
	b := pendingBooking(providerID, 600)
	if err := store.InTx(ctx, providerID, func(tx storage.Tx) error { return tx.InsertBooking(ctx, b) }); err != nil {
		t.Fatalf("insert booking: %v", err)
	}

	appendOne := func(tx storage.Tx, body string) (int, error) {
		m, err := tx.AppendMessage(ctx, model.BookingMessage{
			ID: uuid.NewString(), BookingID: b.ID, Sender: model.SenderClient, AuthorID: "client-1",
			Body: body, CreatedAt: time.Now().UTC(),
		})
		return m.Seq, err
	}

	var seqs []int
	for _, body := range []string{"hi", "is 10 ok?"} {
		err := store.InTx(ctx, providerID, func(tx storage.Tx) error {
			seq, err := appendOne(tx, body)
			seqs = append(seqs, seq)
			return err
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Two appends in one transaction must see each other.
	err := store.InTx(ctx, providerID, func(tx storage.Tx) error {
		for _, body := range []string{"sure", "see you"} {
			seq, err := appendOne(tx, body)
			if err != nil {
				return err
			}
			seqs = append(seqs, seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	for i, seq := range seqs {
		if seq != i+1 {
			t.Fatalf("expected seqs 1..4, got %v", seqs)
		}
	}

	thread, err := store.ListMessages(ctx, b.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(thread) != 4 || thread[0].Body != "hi" || thread[3].Body != "see you" {
		t.Fatalf("unexpected thread %+v", thread)
	}
}

// Two engines share the database but not their in-process lock tables, so only
// the advisory lock keeps their acceptances apart.
func TestPostgresAcceptanceRaceAcrossEngines(t *testing.T) {
	store, providerID := openPostgres(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := booking.WithClock(func() time.Time { return time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC) })
	a := booking.New(store, logger, clock)
	b := booking.New(store, logger, clock)

	if _, err := a.SetBusinessHours(ctx, providerID, time.Monday, true, interval.Interval{Start: 9 * 60, End: 17 * 60}); err != nil {
		t.Fatalf("set hours: %v", err)
	}
	var ids []string
	for _, client := range []string{"client-1", "client-2"} {
		req, err := a.SubmitBookingRequest(ctx, booking.SubmitRequest{
			ProviderID: providerID, ClientID: client, Date: monday, Start: 10 * 60, Duration: 60,
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, req.ID)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, e := range []*booking.Engine{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.RespondToBooking(ctx, model.ProviderActor(providerID), ids[i], booking.Accept, "")
		}()
	}
	wg.Wait()

	var accepted, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Fatalf("accept: %v", err)
		}
	}
	if accepted != 1 || conflicts != 1 {
		t.Fatalf("expected one acceptance and one conflict, got %v", errs)
	}
}
