package tlschannel

import "testing"

func TestStatusStrings(t *testing.T) {
	cases := map[Status]string{
		StatusOK:              "ok",
		StatusBufferUnderflow: "buffer_underflow",
		StatusBufferOverflow:  "buffer_overflow",
		StatusClosed:          "closed",
		Status(99):            "unknown_status",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestHandshakeStatusStrings(t *testing.T) {
	cases := map[HandshakeStatus]string{
		NotHandshaking: "not_handshaking",
		NeedWrap:       "need_wrap",
		NeedUnwrap:     "need_unwrap",
		NeedTask:       "need_task",
		Finished:       "finished",
		HandshakeStatus(99): "unknown_handshake_status",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("HandshakeStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestTaskFuncAdapter(t *testing.T) {
	ran := false
	var task Task = TaskFunc(func() error {
		ran = true
		return nil
	})
	if err := task.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("expected TaskFunc to invoke the wrapped function")
	}
}
