package scripting

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStageCtl_PausesAtGoto(t *testing.T) {
	logs := bytes.NewBuffer(nil)
	input := strings.NewReader("\n\n")

	stages := StageCtl{
		Goto:   2,
		Logger: log.New(logs, "", 0),
		Input:  input,
	}

	stages.Next("one")
	if input.Len() != 2 {
		t.Fatalf("stage one must not read input")
	}

	stages.Next("two")
	if strings.Count(logs.String(), "press enter") != 1 {
		t.Fatalf("expected one pause message - got:\n%s", logs.String())
	}

	stages.Next("three")
	if strings.Count(logs.String(), "press enter") != 1 {
		t.Fatalf("stage three must not pause - got:\n%s", logs.String())
	}

	if stages.Stage() != 3 {
		t.Fatalf("expected stage 3 - got %d", stages.Stage())
	}
}
