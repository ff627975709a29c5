package rule

import (
	"testing"

	"birdtrade/internal/social"

	"github.com/stretchr/testify/assert"
)

func TestMatchByHandle(t *testing.T) {
	r := New("bird", []string{"@BirdpersonBorg"}, nil, "", nil)
	m := Matcher{EmptyFilter: EmptyFilterDisabled}

	assert.True(t, m.Match(r, social.Post{Author: "@birdpersonborg", Text: "going long on everything"}))
	assert.True(t, m.Match(r, social.Post{Author: "BIRDPERSONBORG", Text: "anything"}))
	assert.False(t, m.Match(r, social.Post{Author: "@someoneelse", Text: "going long"}))
}

func TestMatchByKeyword(t *testing.T) {
	r := New("kw", nil, []string{"ETHBTC", "moon"}, "", nil)
	m := Matcher{EmptyFilter: EmptyFilterDisabled}

	assert.True(t, m.Match(r, social.Post{Author: "anyone", Text: "long ethbtc now"}))
	assert.True(t, m.Match(r, social.Post{Author: "anyone", Text: "to the MOON"}))
	assert.False(t, m.Match(r, social.Post{Author: "anyone", Text: "nothing here"}))
}

func TestMatchHandleOrKeyword(t *testing.T) {
	r := New("both", []string{"alice"}, []string{"btc"}, "", nil)
	m := Matcher{}

	assert.True(t, m.Match(r, social.Post{Author: "alice", Text: "hello"}))
	assert.True(t, m.Match(r, social.Post{Author: "bob", Text: "BTC up"}))
	assert.False(t, m.Match(r, social.Post{Author: "bob", Text: "hello"}))
}

func TestMatchEmptyFilterPolicy(t *testing.T) {
	r := New("empty", nil, nil, "", nil)
	post := social.Post{Author: "alice", Text: "hello"}

	assert.True(t, r.Disabled())
	assert.False(t, Matcher{EmptyFilter: EmptyFilterDisabled}.Match(r, post))
	assert.False(t, Matcher{}.Match(r, post))
	assert.True(t, Matcher{EmptyFilter: EmptyFilterMatchAll}.Match(r, post))
}

func TestParseEmptyFilterPolicy(t *testing.T) {
	p, err := ParseEmptyFilterPolicy("all")
	assert.NoError(t, err)
	assert.Equal(t, EmptyFilterMatchAll, p)

	_, err = ParseEmptyFilterPolicy("sometimes")
	assert.Error(t, err)
}

func TestConditionHolds(t *testing.T) {
	var none *Condition
	ok, err := none.Holds(nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.Nil(t, NewCondition("  "))

	c := NewCondition("'long' in {tweet}")
	assert.NoError(t, c.Err())
	assert.Equal(t, "'long' in {tweet}", c.String())

	bad := NewCondition("'long' in {tweet")
	assert.Error(t, bad.Err())
	_, err = bad.Holds(nil)
	assert.Error(t, err)
}
