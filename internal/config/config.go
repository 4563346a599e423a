package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	NodeAddress uint8
	PeerAddress uint8

	// HWBackend selects the device drivers: "periph" for real hardware, "sim" for bench runs.
	HWBackend string
	LEDPin    string
	CutoffPin string

	OneWireBus      string
	TempSensorIndex int

	VBatADCAddress uint16
	VBatADCChannel int
	VBatReferenceV float64
	VBatDivider    float64
	VBatFullScale  int
	LowBatteryV    float64

	ReplyTimeout  time.Duration
	LoopDelay     time.Duration
	PowerDownHold time.Duration
	BlinkFast     time.Duration
	BlinkSlow     time.Duration
	StrictInit    bool

	MQTTBroker       string
	MQTTPort         int
	MQTTClientID     string
	RadioTopicPrefix string
	// AckTimeout is how long SendToWait waits for the peer's ack per attempt;
	// AckRetries is how many times it resends before giving up.
	AckTimeout time.Duration
	AckRetries int

	StationID   string
	JournalPath string

	SimTempC     float64
	SimVBatCount int
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	nodeAddress, err := envUint8("NODE_ADDRESS", "1")
	if err != nil {
		return Config{}, err
	}
	peerAddress, err := envUint8("PEER_ADDRESS", "2")
	if err != nil {
		return Config{}, err
	}

	hwBackend := strings.ToLower(envDefault("HW_BACKEND", "periph"))
	switch hwBackend {
	case "periph", "sim":
	default:
		return Config{}, fmt.Errorf("invalid HW_BACKEND %q (allowed: periph, sim)", hwBackend)
	}

	tempSensorIndex, err := envInt("TEMP_SENSOR_INDEX", "0")
	if err != nil {
		return Config{}, err
	}
	if tempSensorIndex < 0 {
		return Config{}, fmt.Errorf("TEMP_SENSOR_INDEX must not be negative, got %d", tempSensorIndex)
	}

	vbatADCAddressStr := envDefault("VBAT_ADC_ADDRESS", "0x48")
	vbatADCAddress, err := strconv.ParseUint(vbatADCAddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid VBAT_ADC_ADDRESS %q: %w", vbatADCAddressStr, err)
	}
	vbatADCChannel, err := envInt("VBAT_ADC_CHANNEL", "0")
	if err != nil {
		return Config{}, err
	}
	if vbatADCChannel < 0 || vbatADCChannel > 3 {
		return Config{}, fmt.Errorf("VBAT_ADC_CHANNEL must be 0-3, got %d", vbatADCChannel)
	}

	vbatReferenceV, err := envPositiveFloat("VBAT_REFERENCE_V", "3.3")
	if err != nil {
		return Config{}, err
	}
	vbatDivider, err := envPositiveFloat("VBAT_DIVIDER", "2")
	if err != nil {
		return Config{}, err
	}
	vbatFullScale, err := envInt("VBAT_FULL_SCALE", "1024")
	if err != nil {
		return Config{}, err
	}
	if vbatFullScale <= 0 {
		return Config{}, fmt.Errorf("VBAT_FULL_SCALE must be positive, got %d", vbatFullScale)
	}
	lowBatteryV, err := envPositiveFloat("LOW_BATTERY_V", "2.8")
	if err != nil {
		return Config{}, err
	}

	replyTimeout, err := envDuration("REPLY_TIMEOUT", "2s")
	if err != nil {
		return Config{}, err
	}
	loopDelay, err := envDuration("LOOP_DELAY", "500ms")
	if err != nil {
		return Config{}, err
	}
	powerDownHold, err := envDuration("POWER_DOWN_HOLD", "500ms")
	if err != nil {
		return Config{}, err
	}
	blinkFast, err := envDuration("BLINK_FAST", "200ms")
	if err != nil {
		return Config{}, err
	}
	blinkSlow, err := envDuration("BLINK_SLOW", "1s")
	if err != nil {
		return Config{}, err
	}

	strictInitStr := envDefault("STRICT_INIT", "false")
	strictInit, err := strconv.ParseBool(strictInitStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid STRICT_INIT %q: %w", strictInitStr, err)
	}

	mqttPortStr := envDefault("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	ackTimeout, err := envDuration("ACK_TIMEOUT", "200ms")
	if err != nil {
		return Config{}, err
	}
	ackRetries, err := envInt("ACK_RETRIES", "3")
	if err != nil {
		return Config{}, err
	}
	if ackRetries < 0 {
		return Config{}, fmt.Errorf("ACK_RETRIES must not be negative, got %d", ackRetries)
	}

	simTempStr := envDefault("SIM_TEMP_C", "21.5")
	simTempC, err := strconv.ParseFloat(simTempStr, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SIM_TEMP_C %q: %w", simTempStr, err)
	}
	simVBatCount, err := envInt("SIM_VBAT_COUNT", "600")
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:           appEnv,
		LogLevel:         level,
		NodeAddress:      nodeAddress,
		PeerAddress:      peerAddress,
		HWBackend:        hwBackend,
		LEDPin:           envDefault("LED_PIN", "GPIO17"),
		CutoffPin:        envDefault("CUTOFF_PIN", "GPIO27"),
		OneWireBus:       strings.TrimSpace(os.Getenv("ONEWIRE_BUS")),
		TempSensorIndex:  tempSensorIndex,
		VBatADCAddress:   uint16(vbatADCAddress),
		VBatADCChannel:   vbatADCChannel,
		VBatReferenceV:   vbatReferenceV,
		VBatDivider:      vbatDivider,
		VBatFullScale:    vbatFullScale,
		LowBatteryV:      lowBatteryV,
		ReplyTimeout:     replyTimeout,
		LoopDelay:        loopDelay,
		PowerDownHold:    powerDownHold,
		BlinkFast:        blinkFast,
		BlinkSlow:        blinkSlow,
		StrictInit:       strictInit,
		MQTTBroker:       envDefault("MQTT_BROKER", "localhost"),
		MQTTPort:         mqttPort,
		MQTTClientID:     envDefault("MQTT_CLIENT_ID", fmt.Sprintf("jimtransmit-node-%d", nodeAddress)),
		RadioTopicPrefix: strings.Trim(envDefault("RADIO_TOPIC_PREFIX", "radio"), "/"),
		AckTimeout:       ackTimeout,
		AckRetries:       ackRetries,
		StationID:        envDefault("STATION_ID", "outdoor"),
		JournalPath:      strings.TrimSpace(os.Getenv("JOURNAL_PATH")),
		SimTempC:         simTempC,
		SimVBatCount:     simVBatCount,
	}, nil
}

func envDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envUint8(key, def string) (uint8, error) {
	s := envDefault(key, def)
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint8(v), nil
}

func envInt(key, def string) (int, error) {
	s := envDefault(key, def)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envPositiveFloat(key, def string) (float64, error) {
	s := envDefault(key, def)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

func envDuration(key, def string) (time.Duration, error) {
	s := envDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
