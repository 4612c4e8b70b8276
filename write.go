package corestore

import "strings"

// Write is a single mutation queued in the Buffer (spec §3): it
// carries enough information to derive one TableRevision, one
// IndexRevision, and — if Key is searchable — zero or more
// CorpusRevisions, all sharing the same Action and Version.
type Write struct {
	Key        Text
	Val        Value
	Record     Identifier
	Version    uint64
	Action     Action
	Searchable bool
}

// NewWrite constructs a Write. Searchable marks whether Val's string
// form should also be tokenised into CorpusRevisions (spec §3: "if key
// is marked searchable").
func NewWrite(key Text, val Value, record Identifier, version uint64, action Action, searchable bool) Write {
	return Write{Key: key, Val: val, Record: record, Version: version, Action: action, Searchable: searchable}
}

// Table derives this Write's TableRevision: record → key → value.
func (w Write) Table() TableRevision {
	return TableRevision{Locator: w.Record, Key: w.Key, Val: w.Val, Version: w.Version, Action: w.Action}
}

// Index derives this Write's IndexRevision: key → value → record.
func (w Write) Index() IndexRevision {
	return IndexRevision{Locator: w.Key, Key: w.Val, Val: w.Record, Version: w.Version, Action: w.Action}
}

// Corpus derives zero or more CorpusRevisions by tokenising Val's
// string form into whitespace-separated words, one revision per
// occurrence: key → word → Position(record, occurrence index). Returns
// nil if Key isn't marked searchable.
func (w Write) Corpus() []CorpusRevision {
	if !w.Searchable {
		return nil
	}
	words := tokenize(w.Val.stringForm())
	if len(words) == 0 {
		return nil
	}
	revs := make([]CorpusRevision, 0, len(words))
	for i, word := range words {
		revs = append(revs, CorpusRevision{
			Locator: w.Key,
			Key:     TextFromString(word),
			Val:     NewPosition(w.Record, uint32(i)),
			Version: w.Version,
			Action:  w.Action,
		})
	}
	return revs
}

// tokenize splits s into lowercase whitespace-delimited words, the
// simplest indexing tokeniser compatible with the Corpus's "(key,
// word, position)" occurrence model (spec §3, glossary "Corpus").
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

// Cancel returns a Write identical to w but with the opposite Action,
// at a new version. Appending it cancels w's parity contribution
// (spec §8: "ADD followed by ADD of the same (k,v,r): net absent
// ... ADD then REMOVE then ADD: net present").
func (w Write) Cancel(version uint64) Write {
	opposite := ActionAdd
	if w.Action == ActionAdd {
		opposite = ActionRemove
	}
	return Write{Key: w.Key, Val: w.Val, Record: w.Record, Version: version, Action: opposite, Searchable: w.Searchable}
}
