package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// OptimizerConfig collects every empirically tuned constant of the
// clustering and improvement pipelines. The values below mirror production
// tuning; they are configuration, not law.
type OptimizerConfig struct {
	Matrix      MatrixConfig      `mapstructure:"matrix"`
	Clustering  ClusteringConfig  `mapstructure:"clustering"`
	Improvement ImprovementConfig `mapstructure:"improvement"`
}

// MatrixConfig tunes the distance-matrix builder and provider usage.
type MatrixConfig struct {
	MaxChainPoints   int `mapstructure:"max_chain_points"`    // waypoints per directions request
	MaxRounds        int `mapstructure:"max_rounds"`          // build rounds before giving up
	StallRounds      int `mapstructure:"stall_rounds"`        // non-decreasing rounds before early stop
	MaxWorkers       int `mapstructure:"max_workers"`         // concurrent chain requests
	MaxFailedToSplit int `mapstructure:"max_failed_to_split"` // "most failed" points considered per round
	MaxProviderCalls int `mapstructure:"max_provider_calls"`  // hard per-run request ceiling
	CacheTTLHours    int `mapstructure:"cache_ttl_hours"`     // distance cache entry lifetime
}

// ClusteringConfig tunes mini-cluster building and the big-cluster merge.
type ClusteringConfig struct {
	MaxMiniClusters        int     `mapstructure:"max_mini_clusters"`
	SingleClusterPoints    int     `mapstructure:"single_cluster_points"`    // <= this many points: one big cluster
	GrowClusterPoints      int     `mapstructure:"grow_cluster_points"`      // grow while points/count >= this
	GrowNextClusterPoints  int     `mapstructure:"grow_next_cluster_points"` // then while points/(count+1) >= this
	SizeBoundFactor        float64 `mapstructure:"size_bound_factor"`        // min/max big-cluster size spread
	DistanceRatioNear      float64 `mapstructure:"distance_ratio_near"`      // <500m pairs
	DistanceRatioMid       float64 `mapstructure:"distance_ratio_mid"`       // 500-2000m pairs
	DistanceRatioFar       float64 `mapstructure:"distance_ratio_far"`       // >=2000m pairs
	CoefficientTolerance   float64 `mapstructure:"coefficient_tolerance"`
	CoefficientMaxAttempts int     `mapstructure:"coefficient_max_attempts"`
	CenterRetries          int     `mapstructure:"center_retries"`          // randomized-center retries
	CenterStagnationRounds int     `mapstructure:"center_stagnation_rounds"`
	ImproveCapacityShare   float64 `mapstructure:"improve_capacity_share"`  // share of mini-clusters exploded
}

// ImprovementConfig tunes the iterative route-improvement engine.
type ImprovementConfig struct {
	UnassignThresholds       []float64 `mapstructure:"unassign_thresholds"` // far-point coefficients, tried in order
	RouteBalancingAllowedPct float64   `mapstructure:"route_balancing_allowed_pct"`
	ExtraIterations          int       `mapstructure:"extra_iterations"`      // budget = vehicles + this
	SoftWindowIterations     int       `mapstructure:"soft_window_iterations"`
	RunTimeLimitSeconds      int       `mapstructure:"run_time_limit_seconds"`
	RerunTimeLimitSeconds    int       `mapstructure:"rerun_time_limit_seconds"`
	HistoryWindow            int       `mapstructure:"history_window"` // convergence lookback
}

// Default returns the production defaults.
func Default() OptimizerConfig {
	return OptimizerConfig{
		Matrix: MatrixConfig{
			MaxChainPoints:   27,
			MaxRounds:        10,
			StallRounds:      3,
			MaxWorkers:       20,
			MaxFailedToSplit: 27,
			MaxProviderCalls: 10000,
			CacheTTLHours:    24 * 14,
		},
		Clustering: ClusteringConfig{
			MaxMiniClusters:        70,
			SingleClusterPoints:    250,
			GrowClusterPoints:      195,
			GrowNextClusterPoints:  160,
			SizeBoundFactor:        1.25,
			DistanceRatioNear:      30,
			DistanceRatioMid:       20,
			DistanceRatioFar:       10,
			CoefficientTolerance:   0.019,
			CoefficientMaxAttempts: 30,
			CenterRetries:          5,
			CenterStagnationRounds: 3,
			ImproveCapacityShare:   0.15,
		},
		Improvement: ImprovementConfig{
			UnassignThresholds:       []float64{1.25, 1.5, 1.75},
			RouteBalancingAllowedPct: 10,
			ExtraIterations:          3,
			SoftWindowIterations:     3,
			RunTimeLimitSeconds:      600,
			RerunTimeLimitSeconds:    30,
			HistoryWindow:            3,
		},
	}
}

// Load reads optimizer.yaml (plus OPTIMIZER_* environment overrides) from
// the given directory, falling back to defaults when no file is present.
func Load(dir string) (OptimizerConfig, error) {
	v := viper.New()
	v.SetConfigName("optimizer")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("optimizer")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: read optimizer.yaml: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg OptimizerConfig) {
	v.SetDefault("matrix.max_chain_points", cfg.Matrix.MaxChainPoints)
	v.SetDefault("matrix.max_rounds", cfg.Matrix.MaxRounds)
	v.SetDefault("matrix.stall_rounds", cfg.Matrix.StallRounds)
	v.SetDefault("matrix.max_workers", cfg.Matrix.MaxWorkers)
	v.SetDefault("matrix.max_failed_to_split", cfg.Matrix.MaxFailedToSplit)
	v.SetDefault("matrix.max_provider_calls", cfg.Matrix.MaxProviderCalls)
	v.SetDefault("matrix.cache_ttl_hours", cfg.Matrix.CacheTTLHours)
	v.SetDefault("clustering.max_mini_clusters", cfg.Clustering.MaxMiniClusters)
	v.SetDefault("clustering.single_cluster_points", cfg.Clustering.SingleClusterPoints)
	v.SetDefault("clustering.grow_cluster_points", cfg.Clustering.GrowClusterPoints)
	v.SetDefault("clustering.grow_next_cluster_points", cfg.Clustering.GrowNextClusterPoints)
	v.SetDefault("clustering.size_bound_factor", cfg.Clustering.SizeBoundFactor)
	v.SetDefault("clustering.distance_ratio_near", cfg.Clustering.DistanceRatioNear)
	v.SetDefault("clustering.distance_ratio_mid", cfg.Clustering.DistanceRatioMid)
	v.SetDefault("clustering.distance_ratio_far", cfg.Clustering.DistanceRatioFar)
	v.SetDefault("clustering.coefficient_tolerance", cfg.Clustering.CoefficientTolerance)
	v.SetDefault("clustering.coefficient_max_attempts", cfg.Clustering.CoefficientMaxAttempts)
	v.SetDefault("clustering.center_retries", cfg.Clustering.CenterRetries)
	v.SetDefault("clustering.center_stagnation_rounds", cfg.Clustering.CenterStagnationRounds)
	v.SetDefault("clustering.improve_capacity_share", cfg.Clustering.ImproveCapacityShare)
	v.SetDefault("improvement.unassign_thresholds", cfg.Improvement.UnassignThresholds)
	v.SetDefault("improvement.route_balancing_allowed_pct", cfg.Improvement.RouteBalancingAllowedPct)
	v.SetDefault("improvement.extra_iterations", cfg.Improvement.ExtraIterations)
	v.SetDefault("improvement.soft_window_iterations", cfg.Improvement.SoftWindowIterations)
	v.SetDefault("improvement.run_time_limit_seconds", cfg.Improvement.RunTimeLimitSeconds)
	v.SetDefault("improvement.rerun_time_limit_seconds", cfg.Improvement.RerunTimeLimitSeconds)
	v.SetDefault("improvement.history_window", cfg.Improvement.HistoryWindow)
}
