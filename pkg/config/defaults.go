// Package config loads and edits the detector's settings file.
package config

import "github.com/spf13/viper"

// Defaults.
const (
	DefaultRegion    = "us-east-1"
	DefaultSnareTag  = "AWSnare"
	DefaultRulesFile = "detection_rules.yaml"
	DefaultStaging   = "logs_cloudtrail"
	DefaultOutput    = "logs_detections"
	DefaultWorkers   = 8
	DefaultLookback  = 7
	DefaultFileName  = ".awsnare.yaml"
	EnvPrefix        = "AWSNARE"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_region", DefaultRegion)
	v.SetDefault("regions", []string{})
	v.SetDefault("snare_tag", DefaultSnareTag)
	v.SetDefault("snares", []string{})

	v.SetDefault("detection.rules_file", DefaultRulesFile)
	v.SetDefault("detection.staging_dir", DefaultStaging)
	v.SetDefault("detection.output_dir", DefaultOutput)
	v.SetDefault("detection.key_layout", "AWSLogs/{account}/CloudTrail/{region}/{year}/{month}/{day}/")
	v.SetDefault("detection.workers", DefaultWorkers)
	v.SetDefault("detection.dedup", "record")
	v.SetDefault("detection.prefilter", "fields")
	v.SetDefault("detection.lookback_days", DefaultLookback)
	v.SetDefault("detection.validate", false)
	v.SetDefault("detection.strict", false)
	v.SetDefault("detection.artifact_mirror", "")
	v.SetDefault("detection.history_db", "")

	v.SetDefault("notify.slack_webhook", "")
	v.SetDefault("notify.slack_channel", "")

	v.SetDefault("telemetry.otel_endpoint", "")
	v.SetDefault("telemetry.json_logs", false)
	v.SetDefault("telemetry.metrics_file", "")
}

// KnownRegions lists the AWS commercial regions a trail may deliver from.
var KnownRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"af-south-1",
	"ap-east-1", "ap-east-2", "ap-south-1", "ap-south-2",
	"ap-southeast-1", "ap-southeast-2", "ap-southeast-3", "ap-southeast-4", "ap-southeast-5", "ap-southeast-7",
	"ap-northeast-1", "ap-northeast-2", "ap-northeast-3",
	"ca-central-1", "ca-west-1",
	"eu-central-1", "eu-central-2", "eu-west-1", "eu-west-2", "eu-west-3",
	"eu-south-1", "eu-south-2", "eu-north-1",
	"il-central-1", "mx-central-1",
	"me-south-1", "me-central-1",
	"sa-east-1",
}

// IsKnownRegion reports whether r is in KnownRegions.
func IsKnownRegion(r string) bool {
	for _, k := range KnownRegions {
		if k == r {
			return true
		}
	}
	return false
}
