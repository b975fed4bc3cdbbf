package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/resilience/config"
	"github.com/angeloszaimis/resilience/internal/circuitbreaker"
	"github.com/angeloszaimis/resilience/internal/retry"
)

const validYAML = `
server:
  address: ":9090"
  environment: "prod"
  write_timeout: "45s"

logging:
  level: "debug"

retry:
  max_retries: 2
  base_delay: "200ms"
  max_delay: "2s"

breaker:
  failure_threshold: 3
  reset_timeout: "1m"
  overrides:
    whoop:
      failure_threshold: 10

dedupe:
  ttl: "10s"
  cache_failures: false

upstreams:
  - name: oura
    urls: ["http://oura-1:8081", "http://oura-2:8081"]
    timeout: "5s"
    strategy: least-conn
  - name: whoop
    urls: ["https://whoop:8443"]
`

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("Load", func() {
		Context("with a valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				var err error
				cfg, err = config.Load(writeConfig(validYAML))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should read every section", func() {
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
				Expect(cfg.Retry.MaxRetries).To(Equal(2))
				Expect(cfg.Retry.BaseDelay).To(Equal(200 * time.Millisecond))
				Expect(cfg.Breaker.FailureThreshold).To(Equal(3))
				Expect(cfg.Dedupe.CacheFailures).To(BeFalse())
				Expect(cfg.Upstreams).To(HaveLen(2))
				Expect(cfg.Upstreams[0].URLs).To(ConsistOf("http://oura-1:8081", "http://oura-2:8081"))
			})

			It("should fill unset fields with defaults", func() {
				Expect(cfg.Server.ReadTimeout).To(Equal(15 * time.Second))
				Expect(cfg.Server.WriteTimeout).To(Equal(45 * time.Second))
				Expect(cfg.Breaker.SuccessThreshold).To(Equal(circuitbreaker.DefaultSuccessThreshold))
				Expect(cfg.Retry.Jitter).To(BeTrue())
				Expect(cfg.Dedupe.MaxSize).To(Equal(1000))
				Expect(cfg.HealthCheck.Interval).To(Equal(10 * time.Second))
				Expect(cfg.Metrics.BufferSize).To(Equal(1000))
			})

			It("should convert sections to package configs", func() {
				Expect(cfg.Breaker.Breaker()).To(Equal(circuitbreaker.Config{
					FailureThreshold: 3,
					SuccessThreshold: circuitbreaker.DefaultSuccessThreshold,
					ResetTimeout:     time.Minute,
				}))
				Expect(cfg.Breaker.BreakerOverrides()).To(HaveKeyWithValue("whoop", circuitbreaker.Config{
					FailureThreshold: 10,
					SuccessThreshold: circuitbreaker.DefaultSuccessThreshold,
					ResetTimeout:     time.Minute,
				}))

				policy := retry.NewPolicy(cfg.Retry.Options()...)
				Expect(policy.MaxRetries()).To(Equal(2))
				Expect(policy.MaxDelay()).To(Equal(2 * time.Second))

				Expect(cfg.Dedupe.Dedupe().TTL).To(Equal(10 * time.Second))
				Expect(cfg.Server.Timeouts().Write).To(Equal(45 * time.Second))

				upstreams := cfg.UpstreamConfigs()
				Expect(upstreams[0].Name).To(Equal("oura"))
				Expect(upstreams[0].Strategy).To(Equal("least-conn"))
				Expect(upstreams[0].Timeout).To(Equal(5 * time.Second))
			})
		})

		It("should let environment variables override the file", func() {
			setenv("RESILIENCE_SERVER_ADDRESS", ":7070")
			setenv("RESILIENCE_BREAKER_FAILURE_THRESHOLD", "9")

			cfg, err := config.Load(writeConfig(validYAML))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Address).To(Equal(":7070"))
			Expect(cfg.Breaker.FailureThreshold).To(Equal(9))
		})

		It("should find config.yaml in the working directory", func() {
			writeConfig(validYAML)
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tempDir)).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			cfg, err := config.Load("")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Upstreams).To(HaveLen(2))
		})

		It("should fail on an explicit path that does not exist", func() {
			_, err := config.Load(filepath.Join(tempDir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})

		It("should require upstreams when no file is found", func() {
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			Expect(os.Chdir(tempDir)).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			_, err = config.Load("")
			Expect(err).To(MatchError(ContainSubstring("upstream")))
		})
	})

	DescribeTable("Validate rejects",
		func(mutate func(*config.Config), field string) {
			cfg, err := config.Load(writeConfig(validYAML))
			Expect(err).NotTo(HaveOccurred())

			mutate(cfg)
			Expect(cfg.Validate()).To(MatchError(ContainSubstring(field)))
		},
		Entry("unknown environment", func(c *config.Config) { c.Server.Environment = "qa" }, "Environment"),
		Entry("bad address", func(c *config.Config) { c.Server.Address = "nohost" }, "Address"),
		Entry("unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }, "Level"),
		Entry("negative retries", func(c *config.Config) { c.Retry.MaxRetries = -1 }, "MaxRetries"),
		Entry("max delay below base", func(c *config.Config) { c.Retry.MaxDelay = time.Millisecond }, "MaxDelay"),
		Entry("bad override", func(c *config.Config) {
			c.Breaker.Overrides["whoop"] = config.BreakerSettings{ResetTimeout: -time.Second}
		}, "overrides.whoop"),
		Entry("zero buffer", func(c *config.Config) { c.Metrics.BufferSize = 0 }, "BufferSize"),
		Entry("bad collector endpoint", func(c *config.Config) { c.Metrics.OTLPEndpoint = "collector" }, "OTLPEndpoint"),
		Entry("bad upstream scheme", func(c *config.Config) { c.Upstreams[1].URLs = []string{"ftp://whoop"} }, "scheme"),
		Entry("unknown strategy", func(c *config.Config) { c.Upstreams[0].Strategy = "sticky" }, "Strategy"),
		Entry("duplicate upstream", func(c *config.Config) { c.Upstreams[1].Name = "oura" }, "duplicate"),
	)
})
