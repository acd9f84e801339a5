package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/config"
	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/smartgarden/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

func main() {
	// define flags
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	root := flag.String("topic-root", "orto", "topic root")
	ownerID := flag.String("user-id", "", "owner identifier")
	sensorID := flag.String("sensor-id", "sensor1", "unique sensor identifier")
	token := flag.String("token", os.Getenv("SENSOR_TOKEN"), "connection token from the provisioning bundle")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	base := flag.Float64("base", 22, "mean reading")
	amplitude := flag.Float64("amplitude", 4, "daily swing")
	noise := flag.Float64("noise", 0.3, "gaussian noise stddev")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	logger := config.NewLogger(os.Stdout, config.LogConfig{Level: *logLevel, Format: "text"})
	if *ownerID == "" || *token == "" {
		logger.Error("user-id and token are required")
		os.Exit(2)
	}

	prefix := *root + "/" + *ownerID + "/" + *sensorID + "/"
	info := model.ConnectionInfo{
		Host:                  *host,
		Port:                  *port,
		DataTopicPublish:      prefix + string(model.KindData),
		CommandTopicSubscribe: prefix + string(model.KindCommand),
		StatusTopicPublish:    prefix + string(model.KindStatus),
		Token:                 *token,
		KeepAlive:             60,
		ClientIDPrefix:        "sensor_" + *sensorID + "_",
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn := mqttclient.NewManager(mqttclient.Config{
		Host:      info.Host,
		Port:      info.Port,
		ClientID:  info.ClientIDPrefix + time.Now().Format("150405"),
		KeepAlive: time.Duration(info.KeepAlive) * time.Second,
	}, logger)
	conn.Subscribe(info.CommandTopicSubscribe, 1)
	consumer := mqttclient.NewConsumer(conn.Messages(), nil, logger)

	generator := sensorSimulator.NewDataGenerator(*base, *amplitude, *noise, time.Now().UnixNano())
	simulatedSensor := sensorSimulator.NewSensorSimulator(conn, consumer, info, generator, *interval, logger)

	go func() {
		if err := conn.Run(ctx); err != nil {
			logger.Error("mqtt connection terminated", "err", err)
			stop()
		}
	}()
	simulatedSensor.Start(ctx)
	logger.Info("simulator stopped")
}
