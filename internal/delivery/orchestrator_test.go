package delivery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghorza/ghorza/internal/archive"
	"github.com/ghorza/ghorza/internal/catalog"
)

type fakeBuilder struct {
	builds     int
	lastGroups []archive.Group
	path       string
	err        error
}

func (b *fakeBuilder) Build(_ int64, groups []archive.Group) (string, error) {
	b.builds++
	b.lastGroups = groups
	if b.err != nil {
		return "", b.err
	}
	return b.path, nil
}

type fakeDispatcher struct {
	fileCalls    int
	fileFailures int
	sentFiles    []string
	sentTexts    []string
}

func (d *fakeDispatcher) SendText(_ context.Context, _ string, text string) error {
	d.sentTexts = append(d.sentTexts, text)
	return nil
}

func (d *fakeDispatcher) SendFile(_ context.Context, _ string, filePath string, _ string) error {
	d.fileCalls++
	d.sentFiles = append(d.sentFiles, filePath)
	if d.fileCalls <= d.fileFailures {
		return errors.New("chat platform unavailable")
	}
	return nil
}

type fakeRecorder struct {
	reasons []string
}

func (r *fakeRecorder) RecordDeliveryFailure(_ context.Context, _ int64, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

// fakeFileInfo satisfies fs.FileInfo for the stat seam.
type fakeFileInfo struct {
	size int64
}

func (f fakeFileInfo) Name() string       { return "file" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() any           { return nil }

func newTestOrchestrator(b *fakeBuilder, d *fakeDispatcher, r *fakeRecorder) (*Orchestrator, *[]string) {
	o := NewOrchestrator(nil, b, d, r)
	o.sleep = func(time.Duration) {}
	o.stat = func(string) (os.FileInfo, error) { return fakeFileInfo{size: 1}, nil }
	removed := &[]string{}
	o.remove = func(path string) error {
		*removed = append(*removed, path)
		return nil
	}
	return o, removed
}

func singleFileOrder() catalog.Order {
	return catalog.Order{
		ID:         7,
		CustomerID: "c1",
		Product: &catalog.Product{
			ID:    "p1",
			Title: "Rose Bouquet",
			Files: []catalog.ProductFile{{Path: "/files/rose.dst", OriginalName: "rose.dst", IsPrimary: true}},
		},
	}
}

func multiProductOrder() catalog.Order {
	return catalog.Order{
		ID:         8,
		CustomerID: "c1",
		Lines: []catalog.OrderLine{
			{ID: "l1", Product: &catalog.Product{ID: "p1", Title: "Rose Bouquet", Files: []catalog.ProductFile{
				{Path: "/files/rose.dst"},
				{Path: "/files/rose.pes"},
			}}},
			{ID: "l2", Product: &catalog.Product{ID: "p2", Title: "Golden Leaf", Files: []catalog.ProductFile{
				{Path: "/files/leaf.jef"},
			}}},
		},
	}
}

func TestDeliverSingleFileDirectly(t *testing.T) {
	builder := &fakeBuilder{path: "/tmp/should-not-exist.zip"}
	dispatcher := &fakeDispatcher{}
	orch, removed := newTestOrchestrator(builder, dispatcher, &fakeRecorder{})

	err := orch.Deliver(context.Background(), singleFileOrder(), "999")
	require.NoError(t, err)
	assert.Zero(t, builder.builds, "single file must not be archived")
	assert.Equal(t, []string{"/files/rose.dst"}, dispatcher.sentFiles)
	assert.Empty(t, *removed)
}

func TestDeliverMultiFileBuildsArchiveGroupedByProduct(t *testing.T) {
	builder := &fakeBuilder{path: "/tmp/order_8_files_1.zip"}
	dispatcher := &fakeDispatcher{}
	orch, removed := newTestOrchestrator(builder, dispatcher, &fakeRecorder{})

	err := orch.Deliver(context.Background(), multiProductOrder(), "999")
	require.NoError(t, err)
	assert.Equal(t, 1, builder.builds)
	require.Len(t, builder.lastGroups, 2)
	assert.Equal(t, "Rose Bouquet", builder.lastGroups[0].Title)
	assert.Equal(t, "Golden Leaf", builder.lastGroups[1].Title)
	assert.Equal(t, []string{"/tmp/order_8_files_1.zip"}, dispatcher.sentFiles)
	// Archive removed after the successful send.
	assert.Equal(t, []string{"/tmp/order_8_files_1.zip"}, *removed)
}

func TestDeliverNoFiles(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	orch, _ := newTestOrchestrator(&fakeBuilder{}, dispatcher, recorder)

	order := catalog.Order{ID: 9, Lines: []catalog.OrderLine{{ID: "l1"}}}
	err := orch.Deliver(context.Background(), order, "999")
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Zero(t, dispatcher.fileCalls)
	// Fallback message sent, failure recorded.
	require.Len(t, dispatcher.sentTexts, 1)
	assert.Equal(t, fallbackMessage, dispatcher.sentTexts[0])
	assert.Len(t, recorder.reasons, 1)
}

func TestDeliverArchiveTooLargeFailsWithoutSend(t *testing.T) {
	builder := &fakeBuilder{err: archive.ErrArchiveTooLarge}
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	orch, _ := newTestOrchestrator(builder, dispatcher, recorder)

	err := orch.Deliver(context.Background(), multiProductOrder(), "999")
	assert.ErrorIs(t, err, archive.ErrArchiveTooLarge)
	assert.Zero(t, dispatcher.fileCalls)
	// Build failures are terminal: one attempt, no retry.
	assert.Equal(t, 1, builder.builds)
	assert.Len(t, recorder.reasons, 1)
}

func TestDeliverMissingSingleFileFailsWithoutRetry(t *testing.T) {
	dispatcher := &fakeDispatcher{fileFailures: 10}
	recorder := &fakeRecorder{}
	orch, _ := newTestOrchestrator(&fakeBuilder{}, dispatcher, recorder)
	orch.stat = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }

	err := orch.Deliver(context.Background(), singleFileOrder(), "999")
	assert.ErrorIs(t, err, ErrMissingFile)
	// Precondition failures never reach the platform.
	assert.Zero(t, dispatcher.fileCalls)
	require.Len(t, dispatcher.sentTexts, 1)
	assert.Equal(t, fallbackMessage, dispatcher.sentTexts[0])
	assert.Len(t, recorder.reasons, 1)
}

func TestDeliverOversizedSingleFileFailsWithoutSend(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	orch, _ := newTestOrchestrator(&fakeBuilder{}, dispatcher, recorder)
	orch.stat = func(string) (os.FileInfo, error) {
		return fakeFileInfo{size: orch.maxBytes + 1}, nil
	}

	err := orch.Deliver(context.Background(), singleFileOrder(), "999")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Zero(t, dispatcher.fileCalls)
	assert.Len(t, recorder.reasons, 1)
}

func TestDeliverRetriesRebuildArchiveEachAttempt(t *testing.T) {
	builder := &fakeBuilder{path: "/tmp/order_8_files_1.zip"}
	dispatcher := &fakeDispatcher{fileFailures: 2}
	orch, removed := newTestOrchestrator(builder, dispatcher, &fakeRecorder{})

	err := orch.Deliver(context.Background(), multiProductOrder(), "999")
	require.NoError(t, err)
	assert.Equal(t, 3, dispatcher.fileCalls)
	assert.Equal(t, 3, builder.builds)
	// Deleted after every attempt, failed or not.
	assert.Len(t, *removed, 3)
}

func TestDeliverExhaustionNotifiesAndRecords(t *testing.T) {
	dispatcher := &fakeDispatcher{fileFailures: 10}
	recorder := &fakeRecorder{}
	orch, _ := newTestOrchestrator(&fakeBuilder{}, dispatcher, recorder)

	err := orch.Deliver(context.Background(), singleFileOrder(), "999")
	assert.Error(t, err)
	assert.Equal(t, 3, dispatcher.fileCalls)
	require.Len(t, dispatcher.sentTexts, 1)
	assert.Equal(t, fallbackMessage, dispatcher.sentTexts[0])
	require.Len(t, recorder.reasons, 1)
	assert.Contains(t, recorder.reasons[0], "after 3 attempts")
}

func TestDeliverLinearDelaysBetweenAttempts(t *testing.T) {
	dispatcher := &fakeDispatcher{fileFailures: 10}
	orch := NewOrchestrator(nil, &fakeBuilder{}, dispatcher, &fakeRecorder{})
	var waits []time.Duration
	orch.sleep = func(d time.Duration) { waits = append(waits, d) }
	orch.remove = func(string) error { return nil }
	orch.stat = func(string) (os.FileInfo, error) { return fakeFileInfo{size: 1}, nil }

	_ = orch.Deliver(context.Background(), singleFileOrder(), "999")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, waits)
}

func TestDeliverSkipsLinesWithMissingProducts(t *testing.T) {
	order := multiProductOrder()
	order.Lines = append(order.Lines, catalog.OrderLine{ID: "l3"})
	groups := deliverableGroups(order)
	assert.Len(t, groups, 2)
}
