package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

var (
	agents = []string{common.TypePerson, common.TypeOrganisation, common.TypeBand}
	works  = []string{common.TypeThing, common.TypeEvent, common.TypeSet}
)

// DefaultConnectionTypes returns the built-in registry entries.
func DefaultConnectionTypes() []common.ConnectionType {
	return []common.ConnectionType{
		{
			Key:                "created",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  works,
			ForwardPredicate:   "{parent} created {child}",
			InversePredicate:   "{child} was created by {parent}",
		},
		{
			Key:                "contains",
			Constraint:         common.ConstraintTimeless,
			AllowedParentTypes: []string{common.TypeSet, common.TypeThing},
			ForwardPredicate:   "{parent} contains {child}",
			InversePredicate:   "{child} is contained in {parent}",
		},
		{
			Key:                "features",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypeThing, common.TypeEvent},
			ForwardPredicate:   "{parent} features {child}",
			InversePredicate:   "{child} is featured in {parent}",
		},
		{
			Key:                "has_role",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypePerson},
			AllowedChildTypes:  []string{common.TypeRole},
			ForwardPredicate:   "{parent} has role {child}",
			InversePredicate:   "{child} is held by {parent}",
		},
		{
			Key:                "at_organisation",
			Constraint:         common.ConstraintSingle,
			SingleBy:           common.SingleByParent,
			AllowedParentTypes: []string{common.TypeRole},
			AllowedChildTypes:  []string{common.TypeOrganisation},
			ForwardPredicate:   "{parent} at {child}",
			InversePredicate:   "{child} has role {parent}",
		},
		{
			Key:                "located",
			Constraint:         common.ConstraintSingle,
			SingleBy:           common.SingleByParent,
			AllowedParentTypes: []string{common.TypePlace, common.TypeOrganisation, common.TypeThing, common.TypeEvent},
			AllowedChildTypes:  []string{common.TypePlace},
			ForwardPredicate:   "{parent} is located in {child}",
			InversePredicate:   "{child} is the location of {parent}",
		},
		{
			Key:                "family",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypePerson},
			AllowedChildTypes:  []string{common.TypePerson},
			ForwardPredicate:   "{parent} is family of {child}",
			InversePredicate:   "{child} is family of {parent}",
		},
		{
			Key:                "relationship",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypePerson},
			AllowedChildTypes:  []string{common.TypePerson},
			ForwardPredicate:   "{parent} had a relationship with {child}",
			InversePredicate:   "{child} had a relationship with {parent}",
		},
		{
			Key:                "membership",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  []string{common.TypeBand, common.TypeOrganisation},
			ForwardPredicate:   "{parent} is a member of {child}",
			InversePredicate:   "{child} has member {parent}",
		},
		{
			Key:                "during",
			Constraint:         common.ConstraintSingle,
			SingleBy:           common.SingleByParent,
			AllowedParentTypes: []string{common.TypeEvent, common.TypePhase},
			AllowedChildTypes:  []string{common.TypePhase, common.TypeEvent},
			ForwardPredicate:   "{parent} happened during {child}",
			InversePredicate:   "{child} included {parent}",
		},
		{
			Key:                "travel",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  []string{common.TypePlace},
			ForwardPredicate:   "{parent} travelled to {child}",
			InversePredicate:   "{child} was visited by {parent}",
		},
		{
			Key:                "participation",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  []string{common.TypeEvent},
			ForwardPredicate:   "{parent} took part in {child}",
			InversePredicate:   "{child} had participant {parent}",
		},
		{
			Key:                "employment",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypePerson},
			AllowedChildTypes:  []string{common.TypeOrganisation},
			ForwardPredicate:   "{parent} worked at {child}",
			InversePredicate:   "{child} employed {parent}",
		},
		{
			Key:                "education",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: []string{common.TypePerson},
			AllowedChildTypes:  []string{common.TypeOrganisation},
			ForwardPredicate:   "{parent} studied at {child}",
			InversePredicate:   "{child} educated {parent}",
		},
		{
			Key:                "residence",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  []string{common.TypePlace},
			ForwardPredicate:   "{parent} lived in {child}",
			InversePredicate:   "{child} was home to {parent}",
		},
		{
			Key:                "ownership",
			Constraint:         common.ConstraintMultiple,
			AllowedParentTypes: agents,
			AllowedChildTypes:  []string{common.TypeThing, common.TypePlace},
			ForwardPredicate:   "{parent} owned {child}",
			InversePredicate:   "{child} was owned by {parent}",
		},
	}
}

func checkConnectionType(ct common.ConnectionType) error {
	if ct.Key == "" {
		return fmt.Errorf("%w: connection type key is empty", common.ErrInvalidCandidate)
	}
	if !ct.Constraint.Valid() {
		return fmt.Errorf("%w: connection type %s has constraint %q", common.ErrInvalidCandidate, ct.Key, ct.Constraint)
	}
	if ct.Constraint == common.ConstraintSingle &&
		ct.SingleBy != common.SingleByParent && ct.SingleBy != common.SingleByChild {
		return fmt.Errorf("%w: single connection type %s needs single_by parent or child", common.ErrInvalidCandidate, ct.Key)
	}
	if slices.Contains(ct.AllowedParentTypes, common.TypeConnection) ||
		slices.Contains(ct.AllowedChildTypes, common.TypeConnection) {
		return fmt.Errorf("%w: connection type %s allows relationship-spans as endpoints", common.ErrInvalidCandidate, ct.Key)
	}
	return nil
}

// SeedConnectionTypes upserts the default registry and reloads the cache.
func (g *GraphClient) SeedConnectionTypes(ctx context.Context) error {
	defaults := DefaultConnectionTypes()
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		for _, ct := range defaults {
			if err := tx.UpsertConnectionType(ctx, ct); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed connection types: %w", err)
	}
	logger.Info("[Registry] Seeded connection types", "count", len(defaults))
	return g.LoadConnectionTypes(ctx)
}

// RegisterConnectionType validates and upserts a single registry entry.
func (g *GraphClient) RegisterConnectionType(ctx context.Context, ct common.ConnectionType) error {
	if ct.Constraint == common.ConstraintSingle && ct.SingleBy == "" {
		ct.SingleBy = common.SingleByParent
	}
	if err := checkConnectionType(ct); err != nil {
		return err
	}
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertConnectionType(ctx, ct)
	})
	if err != nil {
		return fmt.Errorf("register connection type %s: %w", ct.Key, err)
	}
	g.cacheType(ct)
	return nil
}

// LoadConnectionTypes replaces the cached registry with the stored one.
func (g *GraphClient) LoadConnectionTypes(ctx context.Context) error {
	var types []common.ConnectionType
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		types, err = tx.ListConnectionTypes(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("load connection types: %w", err)
	}

	cache := make(map[string]common.ConnectionType, len(types))
	for _, ct := range types {
		cache[ct.Key] = ct
	}
	g.typesMu.Lock()
	g.types = cache
	g.typesMu.Unlock()

	logger.Debug("[Registry] Loaded connection types", "count", len(types))
	return nil
}

// ConnectionTypes returns the cached registry sorted by key.
func (g *GraphClient) ConnectionTypes() []common.ConnectionType {
	g.typesMu.RLock()
	defer g.typesMu.RUnlock()
	out := make([]common.ConnectionType, 0, len(g.types))
	for _, ct := range g.types {
		out = append(out, ct)
	}
	slices.SortFunc(out, func(a, b common.ConnectionType) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

func (g *GraphClient) cacheType(ct common.ConnectionType) {
	g.typesMu.Lock()
	g.types[ct.Key] = ct
	g.typesMu.Unlock()
}

// connectionType reads through the cache. A miss falls back to tx so types
// registered by other processes are found.
func (g *GraphClient) connectionType(ctx context.Context, tx store.Tx, key string) (common.ConnectionType, error) {
	g.typesMu.RLock()
	ct, ok := g.types[key]
	g.typesMu.RUnlock()
	if ok {
		return ct, nil
	}

	ct, err := tx.GetConnectionType(ctx, key)
	if err != nil {
		return common.ConnectionType{}, err
	}
	g.cacheType(ct)
	return ct, nil
}
