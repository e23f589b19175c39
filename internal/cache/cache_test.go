package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New()

	c.Set("key1", "value1", 10*time.Second)
	val, exists := c.Get("key1")
	assert.True(t, exists)
	assert.Equal(t, "value1", val)

	val, exists = c.Get("nonexistent")
	assert.False(t, exists)
	assert.Nil(t, val)
}

func TestCache_Expiration(t *testing.T) {
	c := New()

	c.Set("expiring", "value", 50*time.Millisecond)

	val, exists := c.Get("expiring")
	assert.True(t, exists)
	assert.Equal(t, "value", val)

	time.Sleep(80 * time.Millisecond)

	val, exists = c.Get("expiring")
	assert.False(t, exists)
	assert.Nil(t, val)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Delete(t *testing.T) {
	c := New()

	c.Set("key", "value", 10*time.Second)
	c.Delete("key")

	_, exists := c.Get("key")
	assert.False(t, exists)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Set("shared", 42, time.Second)
		}()
		go func() {
			defer wg.Done()
			c.Get("shared")
		}()
	}
	wg.Wait()

	val, exists := c.Get("shared")
	assert.True(t, exists)
	assert.Equal(t, 42, val)
}
