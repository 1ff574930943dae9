package store

import (
	"strings"
	"testing"

	"GotMail/module/mailbox/model"
)

// 每个视图的谓词决定了信箱语义, 这里把边界钉死:
// 草稿不进收件箱, 回收站只看 is_trashed, all 含已删但不含草稿。
func TestBoxPredicate(t *testing.T) {
	cases := []struct {
		box      string
		want     []string
		excluded []string
	}{
		{model.BoxInbox, []string{"'to','cc','bcc'", "NOT r.is_trashed", "NOT e.is_draft"}, nil},
		{model.BoxSent, []string{"r.field = 'sender'", "NOT r.is_trashed", "NOT e.is_draft"}, nil},
		{model.BoxStarred, []string{"r.is_starred", "NOT r.is_trashed", "NOT e.is_draft"}, nil},
		{model.BoxAll, []string{"'to','cc','bcc'", "NOT e.is_draft"}, []string{"is_trashed"}},
		{model.BoxDrafts, []string{"r.field = 'sender'", "e.is_draft", "NOT r.is_trashed"}, nil},
		{model.BoxTrash, []string{"r.is_trashed"}, []string{"is_draft"}},
	}
	for _, c := range cases {
		pred, ok := boxPredicate(c.box)
		if !ok {
			t.Fatalf("box %q rejected", c.box)
		}
		for _, frag := range c.want {
			if !strings.Contains(pred, frag) {
				t.Fatalf("box %q predicate %q missing %q", c.box, pred, frag)
			}
		}
		for _, frag := range c.excluded {
			if strings.Contains(pred, frag) {
				t.Fatalf("box %q predicate %q must not mention %q", c.box, pred, frag)
			}
		}
	}

	if _, ok := boxPredicate("spam"); ok {
		t.Fatalf("unknown box must be rejected")
	}
	if _, ok := boxPredicate(""); ok {
		t.Fatalf("empty box must be rejected")
	}
}
