package ownership_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"

	"geolisting/internal/domain"
	"geolisting/internal/ownership"
)

func TestCurrentUserUnsetIsNil(t *testing.T) {
	c := qt.New(t)
	c.Assert(ownership.CurrentUser(context.Background()), qt.IsNil)
	c.Assert(ownership.Bound(context.Background()), qt.IsFalse)
}

func TestCurrentUserRoundTrip(t *testing.T) {
	c := qt.New(t)
	u := &domain.User{ID: 7, Username: "testuser"}

	ctx := ownership.SetCurrentUser(context.Background(), u)
	c.Assert(ownership.CurrentUser(ctx), qt.Equals, u)
	c.Assert(ownership.Bound(ctx), qt.IsTrue)
}

func TestCurrentUserAnonymousBinding(t *testing.T) {
	c := qt.New(t)

	ctx := ownership.SetCurrentUser(context.Background(), nil)
	c.Assert(ownership.CurrentUser(ctx), qt.IsNil)
	c.Assert(ownership.Bound(ctx), qt.IsTrue)
}

func TestRebindingDoesNotLeakToParent(t *testing.T) {
	c := qt.New(t)
	first := &domain.User{ID: 1}
	second := &domain.User{ID: 2}

	parent := ownership.SetCurrentUser(context.Background(), first)
	child := ownership.SetCurrentUser(parent, second)

	c.Assert(ownership.CurrentUser(parent), qt.Equals, first)
	c.Assert(ownership.CurrentUser(child), qt.Equals, second)

	anon := ownership.SetCurrentUser(parent, nil)
	c.Assert(ownership.CurrentUser(anon), qt.IsNil)
}

func TestConcurrentRequestsAreIsolated(t *testing.T) {
	c := qt.New(t)
	const n = 64

	base := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			var u *domain.User
			if id%2 == 0 {
				u = &domain.User{ID: id}
			}
			ctx := ownership.SetCurrentUser(base, u)
			<-start
			for j := 0; j < 100; j++ {
				got := ownership.CurrentUser(ctx)
				if u == nil && got != nil {
					errs <- fmt.Errorf("request %d: anonymous request saw user %d", id, got.ID)
					return
				}
				if u != nil && (got == nil || got.ID != id) {
					errs <- fmt.Errorf("request %d: saw %+v", id, got)
					return
				}
			}
		}(int64(i))
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Error(err)
	}
	c.Assert(ownership.CurrentUser(base), qt.IsNil)
}
