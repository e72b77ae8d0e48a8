package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gitwizard/gitwizard/pkg/store"
)

type fakeAlertStore struct {
	addErr    error
	updateErr error

	added   []store.Alert
	updates []statusUpdate
}

type statusUpdate struct {
	id     string
	status string
	sentAt *time.Time
}

func (f *fakeAlertStore) AddAlert(userID, scanRecordID, channel string) (store.Alert, error) {
	if f.addErr != nil {
		return store.Alert{}, f.addErr
	}
	alert := store.Alert{ID: "alert-1", UserID: userID, ScanRecordID: scanRecordID, Channel: channel, Status: store.AlertStatusPending}
	f.added = append(f.added, alert)
	return alert, nil
}

func (f *fakeAlertStore) UpdateAlertStatus(id, status string, sentAt *time.Time) error {
	f.updates = append(f.updates, statusUpdate{id: id, status: status, sentAt: sentAt})
	return f.updateErr
}

type fakeSender struct {
	err   error
	calls int
}

func (f *fakeSender) SendSecretAlert(ctx context.Context, user store.User, scan store.ScanRecord, repo store.Repository) error {
	f.calls++
	return f.err
}

var (
	testUser = store.User{ID: "user-1", Email: "dev@example.com"}
	testScan = store.ScanRecord{ID: "scan-1", CommitSHA: "abc123"}
	testRepo = store.Repository{ID: "repo-1", FullName: "acme/api"}
)

func TestDispatchSendsAlert(t *testing.T) {
	alerts := &fakeAlertStore{}
	sender := &fakeSender{}

	status := NewDispatcher(alerts, sender).Dispatch(context.Background(), testUser, testScan, testRepo)

	assert.Equal(t, store.AlertStatusSent, status)
	assert.Equal(t, 1, sender.calls)
	assert.Len(t, alerts.added, 1)
	assert.Equal(t, store.AlertChannelEmail, alerts.added[0].Channel)

	assert.Len(t, alerts.updates, 1)
	assert.Equal(t, "alert-1", alerts.updates[0].id)
	assert.Equal(t, store.AlertStatusSent, alerts.updates[0].status)
	assert.NotNil(t, alerts.updates[0].sentAt)
}

func TestDispatchRecordsFailure(t *testing.T) {
	alerts := &fakeAlertStore{}
	sender := &fakeSender{err: errors.New("smtp down")}

	status := NewDispatcher(alerts, sender).Dispatch(context.Background(), testUser, testScan, testRepo)

	assert.Equal(t, store.AlertStatusFailed, status)
	assert.Len(t, alerts.updates, 1)
	assert.Equal(t, store.AlertStatusFailed, alerts.updates[0].status)
	assert.Nil(t, alerts.updates[0].sentAt)
}

func TestDispatchSkipsSendWhenAlertCreationFails(t *testing.T) {
	alerts := &fakeAlertStore{addErr: errors.New("db locked")}
	sender := &fakeSender{}

	status := NewDispatcher(alerts, sender).Dispatch(context.Background(), testUser, testScan, testRepo)

	assert.Empty(t, status)
	assert.Zero(t, sender.calls)
	assert.Empty(t, alerts.updates)
}

func TestDispatchAbsorbsStatusUpdateFailure(t *testing.T) {
	alerts := &fakeAlertStore{updateErr: errors.New("db locked")}
	sender := &fakeSender{}

	status := NewDispatcher(alerts, sender).Dispatch(context.Background(), testUser, testScan, testRepo)

	assert.Equal(t, store.AlertStatusSent, status)
}
