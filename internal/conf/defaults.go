// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages.
const (
	DefaultTrigger         = 0.78
	DefaultConfidenceFloor = 0.3
	DefaultIoUThreshold    = 0.7
	DefaultInputSize       = 640
	DefaultPositiveLabel   = "nailong"
	DefaultIgnoredLabel    = "xiong"
	DefaultBanCooldown     = 60 * time.Second
	DefaultBanDuration     = 60 * time.Second
	DefaultDeleteDelay     = 1 * time.Second
	DefaultArtifactGrace   = 10 * time.Second
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "nailong-guard")
	viper.SetDefault("main.datadir", "data")
	viper.SetDefault("main.tempdir", "tmp")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.timezone", "Local")
	viper.SetDefault("log.console", true)
	viper.SetDefault("log.file", false)
	viper.SetDefault("log.path", "logs/nailong.log")

	viper.SetDefault("detector.backend", "tflite")
	viper.SetDefault("detector.modelpath", "model/nailong.tflite")
	viper.SetDefault("detector.threads", 4)
	viper.SetDefault("detector.normalizedboxes", false)
	viper.SetDefault("detector.inputsize", DefaultInputSize)
	viper.SetDefault("detector.labels", []string{DefaultPositiveLabel})
	viper.SetDefault("detector.positivelabel", DefaultPositiveLabel)
	viper.SetDefault("detector.ignoredlabel", DefaultIgnoredLabel)
	viper.SetDefault("detector.confidencefloor", DefaultConfidenceFloor)
	viper.SetDefault("detector.iouthreshold", DefaultIoUThreshold)
	viper.SetDefault("detector.trigger", DefaultTrigger)
	viper.SetDefault("detector.remote.url", "http://127.0.0.1:8000")
	viper.SetDefault("detector.remote.model", "nailong")
	viper.SetDefault("detector.remote.inputname", "images")
	viper.SetDefault("detector.remote.outputname", "output0")
	viper.SetDefault("detector.remote.timeout", 10*time.Second)

	viper.SetDefault("moderation.replywithconfidence", true)
	viper.SetDefault("moderation.deletemessage", true)
	viper.SetDefault("moderation.bancooldown", DefaultBanCooldown)
	viper.SetDefault("moderation.banduration", DefaultBanDuration)
	viper.SetDefault("moderation.deletedelay", DefaultDeleteDelay)
	viper.SetDefault("moderation.artifactgrace", DefaultArtifactGrace)
	viper.SetDefault("moderation.admins", []int64{})
	viper.SetDefault("moderation.trustgroupadmins", true)
	viper.SetDefault("moderation.shutdowntimeout", 15*time.Second)

	viper.SetDefault("commands.start", ".nailostart")
	viper.SetDefault("commands.stop", ".nailostop")
	viper.SetDefault("commands.check", "检测")
	viper.SetDefault("commands.mytimes", "我的奶龙")

	viper.SetDefault("messages.start", "喜欢发奶龙的小朋友你们好啊，📢📢📢，本群已开启奶龙戒严")
	viper.SetDefault("messages.stop", "📢📢📢，本群已关闭奶龙戒严")
	viper.SetDefault("messages.reply", "不准发奶龙哦，再发打你👊")
	viper.SetDefault("messages.ban", "发发发发发，不准发了👊👊👊")

	viper.SetDefault("storage.type", "json")
	viper.SetDefault("storage.path", "data/nailong.db")
	viper.SetDefault("storage.flushinterval", 5*time.Minute)

	viper.SetDefault("fetch.timeout", 15*time.Second)
	viper.SetDefault("fetch.maxbytes", 20<<20)
	viper.SetDefault("fetch.concurrency", 4)
	viper.SetDefault("fetch.cachettl", 2*time.Minute)
	viper.SetDefault("fetch.useragent", "nailong-guard")

	viper.SetDefault("onebot.url", "ws://127.0.0.1:3001")
	viper.SetDefault("onebot.accesstoken", "")
	viper.SetDefault("onebot.actiontimeout", 10*time.Second)
	viper.SetDefault("onebot.ratelimit", 5.0)
	viper.SetDefault("onebot.rateburst", 10)
	viper.SetDefault("onebot.reconnectdelay", 2*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "nailong-guard/events")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
