package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo keeps items in memory and pages Query results two at a time.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[attrS(in.Item, "PK")+"|"+attrS(in.Item, "SK")] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[attrS(in.Key, "PK")+"|"+attrS(in.Key, "SK")]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := attrS(in.ExpressionAttributeValues, ":pk")
	prefix := attrS(in.ExpressionAttributeValues, ":skPrefix")
	var keys []string
	for k, item := range f.items {
		if attrS(item, "PK") == pk && strings.HasPrefix(attrS(item, "SK"), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := attrS(in.ExclusiveStartKey, "PK") + "|" + attrS(in.ExclusiveStartKey, "SK")
		start = sort.SearchStrings(keys, last) + 1
	}
	end := start + 2
	if end > len(keys) {
		end = len(keys)
	}

	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		lastItem := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": lastItem["PK"], "SK": lastItem["SK"]}
	}
	return out, nil
}

func stores(t *testing.T) map[string]HistoryStore {
	t.Helper()
	return map[string]HistoryStore{
		"memory": NewMemoryStore(),
		"dynamo": NewDynamoStore(newFakeDynamo(), "history", time.Hour),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := s.GetSession(ctx, "missing")
			if err != nil || got != nil {
				t.Fatalf("GetSession(missing) = %v, %v", got, err)
			}

			in := &Session{ID: "abc", Phase: "composite_ready", Persona: "Korean", CompositeKey: "abc/composite.png"}
			if err := s.PutSession(ctx, in); err != nil {
				t.Fatalf("PutSession() error = %v", err)
			}
			if in.CreatedAt == 0 {
				t.Error("CreatedAt not defaulted")
			}

			got, err = s.GetSession(ctx, "abc")
			if err != nil {
				t.Fatalf("GetSession() error = %v", err)
			}
			if *got != *in {
				t.Errorf("GetSession() = %+v, want %+v", got, in)
			}
		})
	}
}

func TestTransitionsOrdered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Out of order, and enough to span several fake pages.
			for _, seq := range []int64{3, 1, 10, 2, 4} {
				tr := &Transition{SessionID: "abc", Seq: seq, Trigger: "t" + strconv.FormatInt(seq, 10), From: "idle", To: "idle"}
				if err := s.PutTransition(ctx, tr); err != nil {
					t.Fatalf("PutTransition(%d) error = %v", seq, err)
				}
			}
			if err := s.PutTransition(ctx, &Transition{SessionID: "other", Seq: 1}); err != nil {
				t.Fatal(err)
			}

			list, err := s.ListTransitions(ctx, "abc")
			if err != nil {
				t.Fatalf("ListTransitions() error = %v", err)
			}
			var seqs []int64
			for _, tr := range list {
				seqs = append(seqs, tr.Seq)
				if tr.SessionID != "abc" || tr.RecordedAt == 0 {
					t.Errorf("transition %+v", tr)
				}
			}
			want := []int64{1, 2, 3, 4, 10}
			if len(seqs) != len(want) {
				t.Fatalf("seqs = %v, want %v", seqs, want)
			}
			for i := range want {
				if seqs[i] != want[i] {
					t.Fatalf("seqs = %v, want %v", seqs, want)
				}
			}
		})
	}
}

func TestDynamoStoreItemLayout(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "history", 0)

	before := time.Now().Add(DefaultTTL).Unix()
	if err := s.PutTransition(context.Background(), &Transition{SessionID: "abc", Seq: 7, Trigger: "start_composite"}); err != nil {
		t.Fatal(err)
	}

	item, ok := fake.items["SESSION#abc|TRANSITION#000000000007"]
	if !ok {
		t.Fatalf("item not stored under expected key; have %v", fake.items)
	}
	if _, ok := item["SessionID"]; ok {
		t.Error("SessionID should be derived from PK, not stored")
	}
	exp, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatal("expiresAt missing")
	}
	if n, _ := strconv.ParseInt(exp.Value, 10, 64); n < before {
		t.Errorf("expiresAt = %d, want >= %d", n, before)
	}
}

func TestDynamoStoreErrors(t *testing.T) {
	fake := newFakeDynamo()
	fake.err = errors.New("throttled")
	s := NewDynamoStore(fake, "history", time.Hour)
	ctx := context.Background()

	if err := s.PutSession(ctx, &Session{ID: "x"}); err == nil {
		t.Error("PutSession() should fail")
	}
	if _, err := s.GetSession(ctx, "x"); err == nil {
		t.Error("GetSession() should fail")
	}
	if _, err := s.ListTransitions(ctx, "x"); err == nil {
		t.Error("ListTransitions() should fail")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.PutSession(ctx, &Session{ID: "a"})
	_ = m.PutTransition(ctx, &Transition{SessionID: "a", Seq: 1})
	m.Delete("a")

	if s, _ := m.GetSession(ctx, "a"); s != nil {
		t.Error("session survived Delete")
	}
	if list, _ := m.ListTransitions(ctx, "a"); len(list) != 0 {
		t.Error("transitions survived Delete")
	}
}
