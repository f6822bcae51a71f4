package scene

import (
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func testClock(at int64, firstNonce int64) *Clock {
	mock := bclock.NewMock()
	mock.Set(time.UnixMilli(at))
	return NewClockWith(mock, NewSequenceNonceSource(firstNonce))
}

func TestClock_Touch_StampsVersionNonceAndTime(t *testing.T) {
	c := testClock(1700000000000, 100)
	e := Element{ID: "a", Version: 3, VersionNonce: 7}

	c.Touch(&e)

	assert.Equal(t, int64(4), e.Version, "Touch increments the version")
	assert.Equal(t, int64(100), e.VersionNonce, "Touch re-rolls the nonce")
	assert.Equal(t, int64(1700000000000), e.UpdatedAt)

	c.Touch(&e)

	assert.Equal(t, int64(5), e.Version)
	assert.Equal(t, int64(101), e.VersionNonce, "every mutation draws a fresh nonce")
}

func TestClock_Delete_TombstonesWithVersionBump(t *testing.T) {
	c := testClock(1700000000000, 1)
	e := Element{ID: "a", Version: 2}

	c.Delete(&e)

	assert.True(t, e.Deleted)
	assert.Equal(t, int64(3), e.Version, "deletion is a mutation like any other")
}

func TestClock_TouchAll_StampsEveryElement(t *testing.T) {
	c := testClock(1700000000000, 10)
	elements := []Element{
		{ID: "a", Version: 1},
		{ID: "b", Version: 5},
	}

	c.TouchAll(elements)

	assert.Equal(t, int64(2), elements[0].Version)
	assert.Equal(t, int64(6), elements[1].Version)
	assert.NotEqual(t, elements[0].VersionNonce, elements[1].VersionNonce)
}

func TestClock_Now_TracksWallClock(t *testing.T) {
	mock := bclock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	c := NewClockWith(mock, RandomNonceSource{})

	assert.Equal(t, int64(1700000000000), c.Now())

	mock.Add(1500 * time.Millisecond)

	assert.Equal(t, int64(1700000001500), c.Now())
}

func TestRandomNonceSource_Range(t *testing.T) {
	src := RandomNonceSource{}
	for i := 0; i < 1000; i++ {
		n := src.Nonce()
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, int64(1)<<31)
	}
}

func TestSequenceNonceSource_Consecutive(t *testing.T) {
	src := NewSequenceNonceSource(7)

	assert.Equal(t, int64(7), src.Nonce())
	assert.Equal(t, int64(8), src.Nonce())
	assert.Equal(t, int64(9), src.Nonce())
}
