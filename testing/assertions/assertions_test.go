package assertions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
	"github.com/AshkanYarmoradi/ordermesh/domain/widget"
	"github.com/AshkanYarmoradi/ordermesh/testing/testutil"
)

func widgetHistory(t *testing.T) []ordermesh.Event {
	t.Helper()
	ctx := context.Background()
	repo := widget.NewRepository(memory.NewAdapter(), nil)
	svc := widget.NewService(repo)

	id, err := svc.Create(ctx, "Sprocket", "A toothed wheel")
	require.NoError(t, err)
	require.NoError(t, svc.ChangeName(ctx, id, "Cog"))
	require.NoError(t, svc.ChangeDescription(ctx, id, "Toothed"))

	events, err := repo.History(ctx, id)
	require.NoError(t, err)
	return events
}

func TestAssertions_Pass(t *testing.T) {
	events := widgetHistory(t)

	AssertEventTypes(t, events, "WidgetCreatedV1", "WidgetNameChangedV1", "WidgetDescriptionChangedV1")
	AssertContainsEventType(t, events, "WidgetNameChangedV1")
	AssertGapless(t, events)
	AssertPayloads(t, events[1:2], widget.NameChangedV1{Name: "Cog"})
}

func TestAssertEventTypes_Fails(t *testing.T) {
	events := widgetHistory(t)

	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventTypes(m, events, "WidgetCreatedV1")
	})
	assert.True(t, mt.Fatalled())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventTypes(m, events, "WidgetCreatedV1", "Other", "WidgetDescriptionChangedV1")
	})
	assert.True(t, mt.Failed())
	assert.Contains(t, mt.Output(), "expected type Other")
}

func TestAssertContainsEventType_Fails(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContainsEventType(m, widgetHistory(t), "WidgetDeletedV1")
	})
	assert.True(t, mt.Failed())
}

func TestAssertGapless_Fails(t *testing.T) {
	events := widgetHistory(t)
	events[2].Sequence = 5

	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertGapless(m, events)
	})
	assert.True(t, mt.Failed())
	assert.Contains(t, mt.Output(), "expected sequence 2, got 5")

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertGapless(m, nil)
	})
	assert.True(t, mt.Fatalled())
}

func TestAssertRecordsGapless(t *testing.T) {
	recs := testutil.Records("cart", "c-1", 3, "CartItemAddedV1")
	AssertRecordsGapless(t, recs)

	recs[1].Sequence = 2
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertRecordsGapless(m, recs)
	})
	assert.True(t, mt.Failed())
}

func TestDiffPayloads(t *testing.T) {
	a := widget.NameChangedV1{Name: "a"}
	b := widget.NameChangedV1{Name: "b"}

	assert.Empty(t, DiffPayloads([]ordermesh.EventPayload{a}, []ordermesh.EventPayload{a}))

	diffs := DiffPayloads([]ordermesh.EventPayload{a, a}, []ordermesh.EventPayload{b})
	require.Len(t, diffs, 2)
	assert.Equal(t, DiffMismatch, diffs[0].Type)
	assert.Equal(t, DiffMissing, diffs[1].Type)

	diffs = DiffPayloads(nil, []ordermesh.EventPayload{b})
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffExtra, diffs[0].Type)
}

func TestFormatDiffs(t *testing.T) {
	assert.Equal(t, "no differences", FormatDiffs(nil))

	out := FormatDiffs([]EventDiff{
		{Index: 0, Expected: widget.NameChangedV1{Name: "a"}, Actual: widget.NameChangedV1{Name: "b"}, Type: DiffMismatch},
		{Index: 1, Expected: widget.NameChangedV1{Name: "c"}, Type: DiffMissing},
	})
	assert.Contains(t, out, "Event 0 (mismatch)")
	assert.Contains(t, out, "Event 1 (missing)")
	assert.Contains(t, out, "(missing)")
}

func TestDiffType_String(t *testing.T) {
	assert.Equal(t, "missing", DiffMissing.String())
	assert.Equal(t, "extra", DiffExtra.String())
	assert.Equal(t, "mismatch", DiffMismatch.String())
	assert.Equal(t, "unknown", DiffType(9).String())
}
