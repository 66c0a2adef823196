package graph

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

func TestResolve_CreateThenUpgradePrecision(t *testing.T) {
	g, _ := newTestClient(t)

	ada := Candidate{
		Type:       common.TypePerson,
		ExternalID: "Q123",
		Name:       "Ada Lovelace",
		Start:      &common.Date{Year: 1815},
	}
	created := resolve(t, g, ada)
	assert.Equal(t, ActionCreated, created.Action)
	assert.Equal(t, common.StateComplete, created.Span.State())
	assert.Equal(t, "Q123", created.Span.Metadata.GetString("wikidata_id"))
	assert.Equal(t, tester.ID, created.Span.OwnerID)

	ada.Start = date(1815, 12, 10)
	upgraded := resolve(t, g, ada)
	assert.Equal(t, ActionUpdated, upgraded.Action)
	assert.Equal(t, MatchedByExternalID, upgraded.MatchedBy)
	assert.Equal(t, created.Span.ID, upgraded.Span.ID)
	assert.Equal(t, date(1815, 12, 10), upgraded.Span.Start)
	assert.Equal(t, common.PrecisionDay, upgraded.Span.Start.Precision())

	stored, err := getSpan(t, g, created.Span.ID)
	require.NoError(t, err)
	assert.Equal(t, date(1815, 12, 10), stored.Start)
}

func TestResolve_Idempotent(t *testing.T) {
	g, _ := newTestClient(t)

	c := Candidate{
		Type:        common.TypeThing,
		ExternalID:  "Q42",
		Name:        "Emma",
		Description: "Novel",
		Start:       date(1815, 12, 23),
		AccessLevel: common.AccessPublic,
		Metadata: common.Metadata{
			"subtype": common.String("book"),
			"tags":    common.List(common.String("novel"), common.Number(1)),
		},
		Sources: []common.Source{{URL: "https://example.org/emma"}},
	}
	first := resolve(t, g, c)
	require.Equal(t, ActionCreated, first.Action)

	second := resolve(t, g, c)
	assert.Equal(t, ActionUnchanged, second.Action)

	stored, err := getSpan(t, g, first.Span.ID)
	require.NoError(t, err)
	assert.True(t, first.Span.Equal(stored))
	assert.Equal(t, first.Span.UpdatedAt, stored.UpdatedAt)
}

func TestResolve_TypeMismatch(t *testing.T) {
	g, _ := newTestClient(t)
	resolve(t, g, Candidate{Type: common.TypePerson, ExternalID: "Q1", Name: "Paris Hilton"})

	_, err := g.Resolve(context.Background(), tester, Candidate{Type: common.TypePlace, ExternalID: "Q1", Name: "Paris"})
	require.ErrorIs(t, err, common.ErrTypeMismatch)

	var mismatch *common.TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, common.TypePerson, mismatch.FoundType)
	assert.Equal(t, common.TypePlace, mismatch.RequestedType)
}

func TestResolve_NameFallback(t *testing.T) {
	g, _ := newTestClient(t)
	orig := resolve(t, g, Candidate{Type: common.TypePerson, Name: "John Smith"})

	t.Run("case insensitive within type", func(t *testing.T) {
		res := resolve(t, g, Candidate{Type: common.TypePerson, Name: "john smith", Description: "Explorer"})
		assert.Equal(t, ActionUpdated, res.Action)
		assert.Equal(t, MatchedByName, res.MatchedBy)
		assert.Equal(t, orig.Span.ID, res.Span.ID)
		assert.Equal(t, "John Smith", res.Span.Name)
		assert.Equal(t, "Explorer", res.Span.Description)
	})

	t.Run("accented names fold", func(t *testing.T) {
		zola := resolve(t, g, Candidate{Type: common.TypePerson, Name: "Émile Zola"})
		res := resolve(t, g, Candidate{Type: common.TypePerson, Name: "émile zola"})
		assert.Equal(t, ActionUnchanged, res.Action)
		assert.Equal(t, MatchedByName, res.MatchedBy)
		assert.Equal(t, zola.Span.ID, res.Span.ID)
		assert.Equal(t, "Émile Zola", res.Span.Name)
	})

	t.Run("other type creates", func(t *testing.T) {
		res := resolve(t, g, Candidate{Type: common.TypeThing, Name: "John Smith"})
		assert.Equal(t, ActionCreated, res.Action)
	})

	t.Run("external id adopted by name match", func(t *testing.T) {
		res := resolve(t, g, Candidate{Type: common.TypePerson, Name: "John Smith", ExternalID: "Q7"})
		assert.Equal(t, orig.Span.ID, res.Span.ID)
		assert.Equal(t, "Q7", res.Span.Metadata.GetString("wikidata_id"))
	})

	t.Run("different external id is another entity", func(t *testing.T) {
		res := resolve(t, g, Candidate{Type: common.TypePerson, Name: "John Smith", ExternalID: "Q8"})
		assert.Equal(t, ActionCreated, res.Action)
		assert.NotEqual(t, orig.Span.ID, res.Span.ID)
	})

	t.Run("different subtype is another entity", func(t *testing.T) {
		book := resolve(t, g, Candidate{Type: common.TypeThing, Name: "Dune",
			Metadata: common.Metadata{"subtype": common.String("book")}})
		film := resolve(t, g, Candidate{Type: common.TypeThing, Name: "Dune",
			Metadata: common.Metadata{"subtype": common.String("film")}})
		assert.NotEqual(t, book.Span.ID, film.Span.ID)
	})
}

func TestResolve_NonDestructiveMerge(t *testing.T) {
	g, _ := newTestClient(t, func(p *NewGraphClientParams) {
		p.RefreshFields = []string{"image"}
	})

	first := resolve(t, g, Candidate{
		Type:        common.TypePerson,
		ExternalID:  "Q5",
		Name:        "Mary Shelley",
		Description: "Writer",
		Start:       date(1797, 8, 30),
		AccessLevel: common.AccessShared,
		Metadata: common.Metadata{
			"occupation":     common.String("novelist"),
			"image":          common.String("old.jpg"),
			"subtype":        common.String("writer"),
			"musicbrainz_id": common.String("mb-1"),
		},
		Sources: []common.Source{{URL: "https://example.org/a"}},
	})

	res := resolve(t, g, Candidate{
		Type:        common.TypePerson,
		ExternalID:  "Q5",
		Name:        "Mary Wollstonecraft Shelley",
		Description: "Author of Frankenstein",
		Start:       &common.Date{Year: 1797},
		End:         date(1851, 2, 1),
		AccessLevel: common.AccessPrivate,
		Metadata: common.Metadata{
			"occupation":     common.String("poet"),
			"image":          common.String("new.jpg"),
			"subtype":        common.String("author"),
			"musicbrainz_id": common.String("mb-2"),
			"birthplace":     common.String("London"),
			"empty":          common.String(""),
		},
		Sources: []common.Source{{URL: "https://example.org/a/"}, {URL: "https://example.org/b"}},
	})
	require.Equal(t, ActionUpdated, res.Action)
	s := res.Span

	assert.Equal(t, first.Span.Name, s.Name, "names are never overwritten")
	assert.Equal(t, "Writer", s.Description)
	assert.Equal(t, date(1797, 8, 30), s.Start, "less precise date must not replace")
	assert.Equal(t, date(1851, 2, 1), s.End, "missing date is filled")
	assert.Equal(t, common.AccessShared, s.AccessLevel, "access level is never demoted")

	assert.Equal(t, "novelist", s.Metadata.GetString("occupation"))
	assert.Equal(t, "new.jpg", s.Metadata.GetString("image"))
	assert.Equal(t, "author", s.Metadata.GetString("subtype"))
	assert.Equal(t, "mb-2", s.Metadata.GetString("musicbrainz_id"))
	assert.Equal(t, "London", s.Metadata.GetString("birthplace"))
	assert.NotContains(t, s.Metadata, "empty")

	require.Len(t, s.Sources, 2)
	assert.Equal(t, "https://example.org/b", s.Sources[1].URL)
	assert.Equal(t, tester.ID, s.UpdaterID)
}

func TestResolve_AccessPromotion(t *testing.T) {
	g, _ := newTestClient(t)
	first := resolve(t, g, Candidate{Type: common.TypePlace, Name: "Vienna"})
	assert.Equal(t, common.AccessPrivate, first.Span.AccessLevel)

	res := resolve(t, g, Candidate{Type: common.TypePlace, Name: "Vienna", AccessLevel: common.AccessPublic})
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, common.AccessPublic, res.Span.AccessLevel)
}

func TestResolve_DateRules(t *testing.T) {
	g, _ := newTestClient(t)

	t.Run("jan first is replaced", func(t *testing.T) {
		c := Candidate{Type: common.TypeEvent, Name: "Congress", Start: date(1814, 1, 1)}
		resolve(t, g, c)
		c.Start = &common.Date{Year: 1814, Month: 9}
		res := resolve(t, g, c)
		assert.Equal(t, ActionUpdated, res.Action)
		assert.Equal(t, &common.Date{Year: 1814, Month: 9}, res.Span.Start)
	})

	t.Run("different year is kept", func(t *testing.T) {
		c := Candidate{Type: common.TypeEvent, Name: "Battle", Start: &common.Date{Year: 1815}}
		resolve(t, g, c)
		c.Start = date(1816, 6, 18)
		res := resolve(t, g, c)
		assert.Equal(t, ActionUnchanged, res.Action)
		assert.Equal(t, &common.Date{Year: 1815}, res.Span.Start)
	})

	t.Run("placeholder becomes complete", func(t *testing.T) {
		c := Candidate{Type: common.TypeOrganisation, Name: "Royal Society"}
		first := resolve(t, g, c)
		assert.Equal(t, common.StatePlaceholder, first.Span.State())

		c.Start = &common.Date{Year: 1660}
		res := resolve(t, g, c)
		assert.Equal(t, common.StateComplete, res.Span.State())
	})
}

func TestResolve_DryRun(t *testing.T) {
	g, _ := newTestClient(t)

	res, err := g.ResolveWithOptions(context.Background(), tester,
		Candidate{Type: common.TypePerson, Name: "Charles Babbage", Start: &common.Date{Year: 1791}},
		ResolveOptions{DryRun: true, ForceState: common.StatePlaceholder})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.True(t, res.DryRun)
	assert.Equal(t, common.StatePlaceholder, res.Span.State())

	_, err = getSpan(t, g, res.Span.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	again := resolve(t, g, Candidate{Type: common.TypePerson, Name: "Charles Babbage"})
	assert.Equal(t, ActionCreated, again.Action)
}

func TestResolve_InvalidCandidate(t *testing.T) {
	g, _ := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		c    Candidate
	}{
		{"missing type", Candidate{Name: "x"}},
		{"missing name", Candidate{Type: common.TypePerson, Name: "  "}},
		{"relationship-span", Candidate{Type: common.TypeConnection, Name: "x"}},
		{"invalid date", Candidate{Type: common.TypePerson, Name: "x", Start: &common.Date{Year: 1900, Month: 13}}},
		{"month without year", Candidate{Type: common.TypePerson, Name: "x", Start: &common.Date{Month: 3}}},
		{"day without year", Candidate{Type: common.TypePerson, Name: "x", End: &common.Date{Month: 3, Day: 12}}},
		{"unknown access level", Candidate{Type: common.TypePerson, Name: "x", AccessLevel: "secret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Resolve(ctx, tester, tt.c)
			require.ErrorIs(t, err, common.ErrInvalidCandidate)
		})
	}
}

func TestResolve_EmptyDateIsAbsent(t *testing.T) {
	g, _ := newTestClient(t)

	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"type":"person","name":"Mary Shelley","start_date":{}}`), &c))
	require.NotNil(t, c.Start)

	first := resolve(t, g, c)
	assert.Equal(t, ActionCreated, first.Action)
	assert.Nil(t, first.Span.Start)
	assert.Equal(t, common.StatePlaceholder, first.Span.State())

	c.Start = date(1797, 8, 30)
	later := resolve(t, g, c)
	assert.Equal(t, ActionUpdated, later.Action)
	assert.Equal(t, first.Span.ID, later.Span.ID)
	assert.Equal(t, date(1797, 8, 30), later.Span.Start)
	assert.Equal(t, common.StateComplete, later.Span.State())
}

func TestResolve_MonthWithoutYearRejected(t *testing.T) {
	g, _ := newTestClient(t)

	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"type":"person","name":"Mary Shelley","start_date":{"month":3}}`), &c))
	_, err := g.Resolve(context.Background(), tester, c)
	require.ErrorIs(t, err, common.ErrInvalidCandidate)
}
