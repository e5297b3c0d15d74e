package chat

import (
	"sync"
	"testing"
)

func TestLog_AppendOrder(t *testing.T) {
	log := NewLog()

	if _, ok := log.Last(); ok {
		t.Fatal("Last() on empty log reported ok")
	}

	user := log.append(RoleUser, "hello")
	assistant := log.append(RoleAssistant, "hi")

	if user.ID == "" || assistant.ID == "" {
		t.Error("turns must carry generated ids")
	}
	if user.ID == assistant.ID {
		t.Error("turn ids must be unique")
	}

	turns := log.Turns()
	if len(turns) != 2 {
		t.Fatalf("Turns() len = %d, want 2", len(turns))
	}
	if turns[0].ID != user.ID || turns[1].ID != assistant.ID {
		t.Error("Turns() not in append order")
	}

	last, ok := log.Last()
	if !ok || last.ID != assistant.ID {
		t.Errorf("Last() = %+v, %v; want assistant turn", last, ok)
	}
}

func TestLog_TurnsReturnsCopy(t *testing.T) {
	log := NewLog()
	log.append(RoleUser, "original")

	snapshot := log.Turns()
	snapshot[0].Content = "mutated"

	turns := log.Turns()
	if turns[0].Content != "original" {
		t.Error("mutating a snapshot leaked into the log")
	}
}

func TestLog_ConcurrentReaders(t *testing.T) {
	log := NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.append(RoleUser, "x")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = log.Turns()
				_ = log.Len()
			}
		}()
	}
	wg.Wait()

	if log.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", log.Len())
	}
}
