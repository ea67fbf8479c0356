package reconcile

import (
	"sort"
	"time"

	"texsync/store"
)

// batch is one submission: the record to send and the journal rows it
// clears when acknowledged.
type batch struct {
	record Record
	ids    []int64
	rows   []store.PendingChange
}

// plan orders the due changes by timestamp (journal id breaks ties) and,
// when squash is set, folds every document's changes into one submission
// carrying the latest snapshot.
//
// A document with any row that is not due (backing off or dead-lettered)
// is held back entirely so its changes never reach the remote out of
// order. The second result counts the rows held back.
func plan(changes []store.PendingChange, now time.Time, squash bool) ([]batch, int) {
	blocked := make(map[string]bool)
	for _, c := range changes {
		if !c.Due(now) {
			blocked[c.DocumentID] = true
		}
	}

	held := 0
	due := make([]store.PendingChange, 0, len(changes))
	for _, c := range changes {
		if blocked[c.DocumentID] {
			held++
			continue
		}
		due = append(due, c)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Timestamp != due[j].Timestamp {
			return due[i].Timestamp < due[j].Timestamp
		}
		return due[i].ID < due[j].ID
	})

	if !squash {
		batches := make([]batch, 0, len(due))
		for _, c := range due {
			batches = append(batches, batch{
				record: RecordOf(c),
				ids:    []int64{c.ID},
				rows:   []store.PendingChange{c},
			})
		}
		return batches, held
	}

	var order []string
	byDoc := make(map[string]*batch)
	for _, c := range due {
		b, ok := byDoc[c.DocumentID]
		if !ok {
			b = &batch{}
			byDoc[c.DocumentID] = b
			order = append(order, c.DocumentID)
		}
		b.ids = append(b.ids, c.ID)
		b.rows = append(b.rows, c)
	}

	batches := make([]batch, 0, len(order))
	for _, docID := range order {
		b := byDoc[docID]
		b.record = squashed(b.rows)
		batches = append(batches, *b)
	}
	// A document is submitted at the position of its latest change.
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].record.Timestamp < batches[j].record.Timestamp
	})
	return batches, held
}

// squashed collapses one document's ordered changes. The latest snapshot
// wins; a document the remote has never seen stays a create unless the run
// ends in a delete.
func squashed(rows []store.PendingChange) Record {
	first, last := rows[0], rows[len(rows)-1]
	rec := RecordOf(last)
	if first.Type == store.ChangeCreate && last.Type != store.ChangeDelete {
		rec.Type = store.ChangeCreate
	}
	return rec
}
