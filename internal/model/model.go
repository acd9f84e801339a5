package model

import (
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	SensorIdentity = entities.SensorIdentity
	SensorData     = messages.SensorData
	DeviceStatus   = messages.DeviceStatus
	DeviceCommand  = messages.DeviceCommand
)
