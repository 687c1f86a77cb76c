package mailer

import (
	"context"
	"testing"
	"time"

	"mailcron/internal/task"
)

func TestRenderHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single line",
			in:   "Hello there",
			want: "<p>Hello there</p>",
		},
		{
			name: "blank lines become nbsp paragraphs",
			in:   "First\n\nSecond",
			want: "<p>First</p><p>&nbsp;</p><p>Second</p>",
		},
		{
			name: "markup is escaped",
			in:   "<script>alert(1)</script>",
			want: "<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>",
		},
		{
			name: "empty body",
			in:   "",
			want: "<p>&nbsp;</p>",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderHTML(tt.in); got != tt.want {
				t.Fatalf("RenderHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSendWithoutTransport(t *testing.T) {
	t.Parallel()
	m := New(0)
	err := m.Send(context.Background(), &task.Task{ID: "t1"})
	if err != ErrNoSMTP {
		t.Fatalf("Send error = %v, want ErrNoSMTP", err)
	}
}

func TestClientCaching(t *testing.T) {
	m := New(0)
	defer m.Close()

	cfg := &task.SMTPConfig{Host: "smtp.example.com", Port: 587, User: "u", Pass: "p"}
	first, err := m.client(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	second, err := m.client(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if first != second {
		t.Fatal("same transport identity produced distinct clients")
	}

	// A different user is a different transport identity.
	other := &task.SMTPConfig{Host: "smtp.example.com", Port: 587, User: "v", Pass: "p"}
	third, err := m.client(other)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if third == first {
		t.Fatal("distinct transport identities shared a client")
	}
}

func TestClientIdleEviction(t *testing.T) {
	m := New(time.Nanosecond)
	defer m.Close()

	cfg := &task.SMTPConfig{Host: "smtp.example.com", Port: 587, User: "u", Pass: "p"}
	first, err := m.client(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	time.Sleep(time.Millisecond)
	second, err := m.client(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if first == second {
		t.Fatal("idle client survived past its TTL")
	}
}
