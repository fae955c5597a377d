package txenv

import (
	"fmt"
	"strings"
)

// EventKind - lifecycle signal of the test runner.
type EventKind int

const (
	EventSuiteStart EventKind = iota
	EventTestStart
	EventTestFnStart
	EventTestFnSuccess
	EventTestFnFailure
	EventTestDone
	EventTestSkip
	EventTestTodo
)

func (k EventKind) String() string {
	switch k {
	case EventSuiteStart:
		return "suite-start"
	case EventTestStart:
		return "test-start"
	case EventTestFnStart:
		return "test-fn-start"
	case EventTestFnSuccess:
		return "test-fn-success"
	case EventTestFnFailure:
		return "test-fn-failure"
	case EventTestDone:
		return "test-done"
	case EventTestSkip:
		return "test-skip"
	case EventTestTodo:
		return "test-todo"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered by the runner adapter to Environment.HandleTestEvent.
type Event struct {
	Kind EventKind
	Test TestEntry
}

// DescribeBlock is a group of tests. The block without a parent is the root and never shows up in breadcrumbs.
type DescribeBlock struct {
	Name   string
	Parent *DescribeBlock
}

// TestEntry identifies a test inside its describe blocks.
type TestEntry struct {
	Name   string
	Parent *DescribeBlock
	// Path of the test file, relative to the configured root dir. Empty uses the Environment test path.
	Path string
}

const rootDescribeBlock = "ROOT_DESCRIBE_BLOCK"

// TestEntryFromName maps a Go test name ("TestUsers/create/duplicate") onto describe blocks:
// every segment but the last is a block, the last one is the test.
func TestEntryFromName(name string) TestEntry {
	segments := strings.Split(name, "/")

	parent := &DescribeBlock{Name: rootDescribeBlock}
	for _, segment := range segments[:len(segments)-1] {
		parent = &DescribeBlock{Name: segment, Parent: parent}
	}

	return TestEntry{Name: segments[len(segments)-1], Parent: parent}
}

// Breadcrumb renders "path > block > ... > test", most specific last.
func Breadcrumb(testPath string, entry TestEntry) string {
	var blocks []string
	for block := entry.Parent; block != nil && block.Parent != nil; block = block.Parent {
		blocks = append(blocks, block.Name)
	}

	parts := make([]string, 0, len(blocks)+2)
	if entry.Path != "" {
		testPath = entry.Path
	}
	if testPath != "" {
		parts = append(parts, testPath)
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		parts = append(parts, blocks[i])
	}
	parts = append(parts, entry.Name)

	return strings.Join(parts, " > ")
}
