package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/moffa90/go-lpfota/secure"
	"gopkg.in/ini.v1"
)

// deviceConfig is the content of a device INI file:
//
//	[device]
//	port         = /dev/ttyUSB0
//	baud         = 115200
//	read_timeout = 5s
//	id           = 70B3D57ED0000001
//
//	[keys]
//	1 = 000102030405060708090A0B0C0D0E0F
//
//	[update]
//	sw_initial       = 0x0102
//	network_id       = 0x0001
//	hardware_version = 0x0003
type deviceConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	DeviceID    []byte
	Keys        map[uint8][]byte

	SWInitial       uint16
	NetworkID       uint16
	HardwareVersion uint16
}

func loadDeviceConfig(path string) (*deviceConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w", path, err)
	}

	dev := f.Section("device")
	cfg := &deviceConfig{
		Port:        dev.Key("port").String(),
		Baud:        dev.Key("baud").MustInt(115200),
		ReadTimeout: dev.Key("read_timeout").MustDuration(5 * time.Second),
		Keys:        make(map[uint8][]byte),
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("%s: [device] port is required", path)
	}

	cfg.DeviceID, err = hex.DecodeString(dev.Key("id").String())
	if err != nil {
		return nil, fmt.Errorf("%s: [device] id: %w", path, err)
	}
	if len(cfg.DeviceID) == 0 || len(cfg.DeviceID) > secure.CounterSize-secure.BlockIDSize {
		return nil, fmt.Errorf("%s: [device] id must be 1 to %d bytes, got %d",
			path, secure.CounterSize-secure.BlockIDSize, len(cfg.DeviceID))
	}

	for _, k := range f.Section("keys").Keys() {
		id, err := strconv.ParseUint(k.Name(), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: [keys] %q is not a key id: %w", path, k.Name(), err)
		}
		key, err := hex.DecodeString(k.String())
		if err != nil {
			return nil, fmt.Errorf("%s: [keys] %s: %w", path, k.Name(), err)
		}
		cfg.Keys[uint8(id)] = key
	}

	upd := f.Section("update")
	for _, field := range []struct {
		name string
		dst  *uint16
	}{
		{"sw_initial", &cfg.SWInitial},
		{"network_id", &cfg.NetworkID},
		{"hardware_version", &cfg.HardwareVersion},
	} {
		if !upd.HasKey(field.name) {
			continue
		}
		v, err := strconv.ParseUint(upd.Key(field.name).String(), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%s: [update] %s: %w", path, field.name, err)
		}
		*field.dst = uint16(v)
	}

	return cfg, nil
}

// keyring builds the host keyring from the configured keys.
func (c *deviceConfig) keyring() (*secure.Keyring, error) {
	kr := secure.NewKeyring()
	for id, key := range c.Keys {
		if err := kr.Add(id, key); err != nil {
			return nil, fmt.Errorf("key %d: %w", id, err)
		}
	}
	return kr, nil
}
