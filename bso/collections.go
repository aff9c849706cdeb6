package bso

// Reserved collection names get small fixed integer ids so the hot read
// path (info/collections, precondition checks) never needs a lookup for
// them. Grounded on original_source/syncstorage/storage/sql.py's
// STANDARD_COLLECTIONS table.
var StandardCollections = map[string]int64{
	"clients":   1,
	"crypto":    2,
	"forms":     3,
	"history":   4,
	"keys":      5,
	"meta":      6,
	"bookmarks": 7,
	"prefs":     8,
	"tabs":      9,
	"passwords": 10,
	"addons":    11,
}

// FirstCustomCollectionID is the smallest id handed out to a collection
// name not present in StandardCollections.
const FirstCustomCollectionID = 100

// StandardCollectionName is the reverse mapping of StandardCollections,
// used when reporting a reserved collection id back as a name.
var StandardCollectionName = func() map[int64]string {
	m := make(map[int64]string, len(StandardCollections))
	for name, id := range StandardCollections {
		m[id] = name
	}
	return m
}()
