package corestore

import "testing"

func TestParseNavigatePathSplitsOnDot(t *testing.T) {
	p, err := ParseNavigatePath("author.publisher.name")
	if err != nil {
		t.Fatalf("ParseNavigatePath: %v", err)
	}
	if len(p.steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(p.steps))
	}
	if p.steps[0].String() != "author" || p.steps[2].String() != "name" {
		t.Fatalf("unexpected steps: %+v", p.steps)
	}
}

func TestParseNavigatePathRejectsEmpty(t *testing.T) {
	if _, err := ParseNavigatePath(""); err != ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath for empty path, got %v", err)
	}
	if _, err := ParseNavigatePath("a..b"); err != ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath for empty segment, got %v", err)
	}
}

// Graph: book(1) --author--> person(10) --name--> "alice"
//        book(2) --author--> person(20) --name--> "bob"
func setupNavigateGraph(t *testing.T) (*Database, *Buffer) {
	t.Helper()
	db, buf, _ := newTestDatabase(t)
	mustInsert(t, buf, "author", NewLink(Identifier(10)), Identifier(1), ActionAdd, false)
	mustInsert(t, buf, "author", NewLink(Identifier(20)), Identifier(2), ActionAdd, false)
	mustInsert(t, buf, "name", NewString("alice"), Identifier(10), ActionAdd, false)
	mustInsert(t, buf, "name", NewString("bob"), Identifier(20), ActionAdd, false)
	return db, buf
}

func TestNavigateForwardFollowsLinkChain(t *testing.T) {
	db, _ := setupNavigateGraph(t)
	path, err := ParseNavigatePath("author.name")
	if err != nil {
		t.Fatalf("ParseNavigatePath: %v", err)
	}
	start := NewRecordSet()
	start.Add(1)
	start.Add(2)

	result, err := db.navigateForward(path, start, OpEQ, []Value{NewString("alice")}, VersionNow)
	if err != nil {
		t.Fatalf("navigateForward: %v", err)
	}
	if result.Len() != 1 || !result.Contains(1) {
		t.Fatalf("expected only book 1 to navigate to name=alice, got %v", result.Slice())
	}
}

func TestNavigateReverseWalksBackwardViaLinks(t *testing.T) {
	db, _ := setupNavigateGraph(t)
	path, err := ParseNavigatePath("author.name")
	if err != nil {
		t.Fatalf("ParseNavigatePath: %v", err)
	}

	result, err := db.navigateReverse(path, OpEQ, []Value{NewString("bob")}, VersionNow)
	if err != nil {
		t.Fatalf("navigateReverse: %v", err)
	}
	if result.Len() != 1 || !result.Contains(2) {
		t.Fatalf("expected only book 2 to reach name=bob via its author, got %v", result.Slice())
	}
}

func TestNavigateEndToEndMatchesDirectly(t *testing.T) {
	db, _ := setupNavigateGraph(t)
	path, err := ParseNavigatePath("author.name")
	if err != nil {
		t.Fatalf("ParseNavigatePath: %v", err)
	}

	start := NewRecordSet()
	start.Add(1)
	start.Add(2)

	result, err := db.Navigate(path, start, OpEQ, []Value{NewString("bob")}, VersionNow)
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if result.Len() != 1 || !result.Contains(2) {
		t.Fatalf("expected only book 2 to match name=bob, got %v", result.Slice())
	}
}

func TestNavigateRejectsEmptyPath(t *testing.T) {
	db, _ := setupNavigateGraph(t)
	_, err := db.Navigate(NavigatePath{}, NewRecordSet(), OpEQ, nil, VersionNow)
	if err != ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestChooseForwardFallsBackWhenStartEmpty(t *testing.T) {
	db, _ := setupNavigateGraph(t)
	path, _ := ParseNavigatePath("author.name")
	if db.chooseForward(path, nil, VersionNow) {
		t.Fatalf("expected chooseForward to be false when start set is nil")
	}
	if db.chooseForward(path, NewRecordSet(), VersionNow) {
		t.Fatalf("expected chooseForward to be false when start set is empty")
	}
}
