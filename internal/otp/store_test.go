package otp_test

import (
	"context"
	"errors"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/otp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

// storeContract runs the behaviour every Store must share. advance moves the
// store's notion of time forward.
func storeContract(setup func() (otp.Store, func(time.Duration))) {
	var (
		ctx     context.Context
		store   otp.Store
		advance func(time.Duration)
	)

	BeforeEach(func() {
		ctx = context.Background()
		store, advance = setup()
	})

	It("returns what was put", func() {
		Expect(store.Put(ctx, "a@example.com", "hash-1", time.Minute)).To(Succeed())
		hash, err := store.Get(ctx, "a@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).To(Equal("hash-1"))
	})

	It("reports missing keys as expired", func() {
		_, err := store.Get(ctx, "nobody")
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})

	It("forgets codes after their ttl", func() {
		Expect(store.Put(ctx, "a@example.com", "hash-1", time.Minute)).To(Succeed())
		advance(2 * time.Minute)

		_, err := store.Get(ctx, "a@example.com")
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
		_, err = store.IncrAttempts(ctx, "a@example.com")
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})

	It("counts attempts and resets them on a new code", func() {
		Expect(store.Put(ctx, "a@example.com", "hash-1", time.Minute)).To(Succeed())
		Expect(store.IncrAttempts(ctx, "a@example.com")).To(Equal(1))
		Expect(store.IncrAttempts(ctx, "a@example.com")).To(Equal(2))

		Expect(store.Put(ctx, "a@example.com", "hash-2", time.Minute)).To(Succeed())
		Expect(store.IncrAttempts(ctx, "a@example.com")).To(Equal(1))
	})

	It("deletes codes", func() {
		Expect(store.Put(ctx, "a@example.com", "hash-1", time.Minute)).To(Succeed())
		Expect(store.Delete(ctx, "a@example.com")).To(Succeed())

		_, err := store.Get(ctx, "a@example.com")
		Expect(errors.Is(err, internal.ErrOTPExpired)).To(BeTrue())
	})
}

var _ = Describe("MemoryStore", func() {
	var (
		store *otp.MemoryStore
		clock time.Time
	)

	setup := func() (otp.Store, func(time.Duration)) {
		clock = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		store = otp.NewMemoryStore(time.Hour)
		store.SetClock(func() time.Time { return clock })
		return store, func(d time.Duration) { clock = clock.Add(d) }
	}

	AfterEach(func() {
		store.Close()
	})

	storeContract(setup)

	It("purges expired entries in the background sweep", func() {
		ctx := context.Background()
		Expect(store.Put(ctx, "a", "h", time.Minute)).To(Succeed())
		Expect(store.Put(ctx, "b", "h", time.Hour)).To(Succeed())

		clock = clock.Add(2 * time.Minute)
		Expect(store.Purge()).To(Equal(1))
		Expect(store.Len()).To(Equal(1))
	})
})

var _ = Describe("RedisStore", func() {
	var (
		server *miniredis.Miniredis
		store  *otp.RedisStore
	)

	setup := func() (otp.Store, func(time.Duration)) {
		server = miniredis.RunT(GinkgoT())
		store = otp.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
		return store, server.FastForward
	}

	AfterEach(func() {
		store.Close()
	})

	storeContract(setup)

	It("expires the attempt counter with the code", func() {
		ctx := context.Background()
		Expect(store.Put(ctx, "a@example.com", "hash-1", time.Minute)).To(Succeed())
		Expect(store.IncrAttempts(ctx, "a@example.com")).To(Equal(1))

		Expect(server.TTL("otp:a@example.com:attempts")).To(BeNumerically(">", 0))
		Expect(server.TTL("otp:a@example.com:attempts")).To(BeNumerically("<=", time.Minute))
	})

	It("connects through NewRedisStore", func() {
		s, err := otp.NewRedisStore(context.Background(), otp.RedisConfig{Addr: server.Addr()})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Ping(context.Background())).To(Succeed())
		Expect(s.Close()).To(Succeed())
	})

	It("fails fast when redis is unreachable", func() {
		gone := miniredis.NewMiniRedis()
		Expect(gone.Start()).To(Succeed())
		addr := gone.Addr()
		gone.Close()

		_, err := otp.NewRedisStore(context.Background(), otp.RedisConfig{Addr: addr})
		Expect(err).To(HaveOccurred())
	})
})
