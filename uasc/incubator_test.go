// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/awcullen/uasc/ua"
	"gotest.tools/assert"
)

func TestIncubatorReleasesInOrder(t *testing.T) {
	var got []int
	inc := newIncubator(func(v int, err error) {
		got = append(got, v)
	})
	const n = 200
	tickets := make([]*ticket[int], n)
	for i := range tickets {
		tickets[i] = inc.reserve()
	}
	// fill in random order from many goroutines.
	var wg sync.WaitGroup
	for _, i := range rand.Perm(n) {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inc.fill(tickets[i], i, nil)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, inc.len(), 0)
	assert.Equal(t, len(got), n)
	for i, v := range got {
		assert.Equal(t, v, i)
	}
}

func TestIncubatorHoldsUntilFront(t *testing.T) {
	var got []int
	var errs []error
	inc := newIncubator(func(v int, err error) {
		got = append(got, v)
		errs = append(errs, err)
	})
	t1, t2, t3 := inc.reserve(), inc.reserve(), inc.reserve()
	inc.fill(t3, 3, nil)
	inc.fill(t2, 2, ua.BadSecurityChecksFailed)
	assert.Equal(t, len(got), 0)
	assert.Equal(t, inc.len(), 3)
	inc.fill(t1, 1, nil)
	assert.DeepEqual(t, got, []int{1, 2, 3})
	assert.Equal(t, errs[1], error(ua.BadSecurityChecksFailed))
}
