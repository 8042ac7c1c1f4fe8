package usecase

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestListingCreate(t *testing.T) {
	m := newMarket(t)

	l, err := m.listingUC.Create(ctxBG, user("seller"), 1000, 500)
	require.NoError(t, err)
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, domain.ListingStatusActive, l.Status)
	assert.Equal(t, 2.0, l.Ratio)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.ListingsCreatedTotal))

	_, err = m.listingUC.Create(ctxBG, user("seller"), 0, 500)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.listingUC.Create(ctxBG, &authBanned, 10, 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	m.recorder.Wait()
	assert.Equal(t, []domain.ActionType{domain.ActionCreateProduct}, m.activities.actions("seller"))
}

func TestListingGet(t *testing.T) {
	m := newMarket(t)
	l := m.seedListing(t, "seller", 10, 1)

	got, err := m.listingUC.Get(ctxBG, l.ID, user("viewer"))
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	_, err = m.listingUC.Get(ctxBG, l.ID, nil)
	require.NoError(t, err)

	m.recorder.Wait()
	assert.Equal(t, []domain.ActionType{domain.ActionViewProduct}, m.activities.actions("viewer"))

	require.NoError(t, m.listingUC.Delete(ctxBG, user("seller"), l.ID))
	_, err = m.listingUC.Get(ctxBG, l.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListingUpdate(t *testing.T) {
	m := newMarket(t)
	l := m.seedListing(t, "seller", 1000, 500)

	updated, err := m.listingUC.Update(ctxBG, user("seller"), l.ID, domain.ListingUpdate{Price: ptr(250.0)})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, updated.Amount)
	assert.Equal(t, 4.0, updated.Ratio)

	_, err = m.listingUC.Update(ctxBG, user("intruder"), l.ID, domain.ListingUpdate{Price: ptr(1.0)})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = m.listingUC.Update(ctxBG, user("seller"), l.ID, domain.ListingUpdate{Amount: ptr(-1.0)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.listingUC.Update(ctxBG, user("seller"), l.ID, domain.ListingUpdate{Status: ptr(domain.ListingStatusSold)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = m.listingUC.Update(ctxBG, user("seller"), l.ID, domain.ListingUpdate{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListingUpdate_ReservedIsLocked(t *testing.T) {
	m := newMarket(t)
	l, _ := m.reserved(t, "seller", "buyer", 10, 1)

	_, err := m.listingUC.Update(ctxBG, user("seller"), l.ID, domain.ListingUpdate{Amount: ptr(5.0)})
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	err = m.listingUC.Delete(ctxBG, user("seller"), l.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestListingDelete(t *testing.T) {
	m := newMarket(t)
	l := m.seedListing(t, "seller", 10, 1)

	assert.ErrorIs(t, m.listingUC.Delete(ctxBG, user("intruder"), l.ID), domain.ErrForbidden)
	require.NoError(t, m.listingUC.Delete(ctxBG, user("seller"), l.ID))
	assert.Equal(t, domain.ListingStatusDeleted, m.listings.snapshot(l.ID).Status)
	assert.ErrorIs(t, m.listingUC.Delete(ctxBG, user("seller"), l.ID), domain.ErrNotFound)

	reserved, _ := m.reserved(t, "seller", "buyer", 10, 1)
	require.NoError(t, m.listingUC.Delete(ctxBG, admin("root"), reserved.ID))
}

func TestListingList_AdminTabRequiresCapability(t *testing.T) {
	m := newMarket(t)
	m.seedListing(t, "seller", 10, 1)

	_, _, err := m.listingUC.List(ctxBG, user("seller"), domain.ListingFilter{Tab: domain.ListingTabAdmin})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	items, page, err := m.listingUC.List(ctxBG, admin("root"), domain.ListingFilter{Tab: domain.ListingTabAdmin})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.Current)

	_, _, err = m.listingUC.List(ctxBG, nil, domain.ListingFilter{Tab: domain.ListingTabMy})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
