package shutdown

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDrainRunsStagesInOrder(t *testing.T) {
	c := New()
	var order []string
	c.Register("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	c.Register("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	errs := c.Drain(context.Background(), time.Second)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDrainContinuesPastFailedStage(t *testing.T) {
	c := New()
	var ranSecond bool
	c.Register("fails", func(ctx context.Context) error {
		return fmt.Errorf("boom")
	})
	c.Register("second", func(ctx context.Context) error {
		ranSecond = true
		return nil
	})

	errs := c.Drain(context.Background(), time.Second)
	assert.Len(t, errs, 1)
	assert.True(t, ranSecond, "a failing stage must not block later stages")
}

func TestDrainWithNoStagesReturnsNoErrors(t *testing.T) {
	c := New()
	assert.Empty(t, c.Drain(context.Background(), time.Second))
}
