package mabmgb

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownDevice 设备名未在地址簿中登记
var ErrUnknownDevice = errors.New("mabmgb: unknown device")

// AddressBook 设备名 -> 总线地址
type AddressBook struct {
	Devices map[string]uint8 `yaml:"devices"`
}

// DefaultAddressBook 返回默认地址簿
func DefaultAddressBook() *AddressBook {
	return &AddressBook{
		Devices: map[string]uint8{
			"mab": MABAddr,
			"mgb": MGBAddr,
		},
	}
}

// LoadAddressBook 从 YAML 加载地址簿，未出现的默认设备保留默认地址
func LoadAddressBook(path string) (*AddressBook, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read address book: %w", err)
	}
	var loaded AddressBook
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return nil, fmt.Errorf("unmarshal address book: %w", err)
	}
	book := DefaultAddressBook()
	for name, addr := range loaded.Devices {
		book.Devices[strings.ToLower(name)] = addr
	}
	return book, nil
}

// Resolve 解析设备名或数字地址（十进制或 0x 十六进制）
func (a *AddressBook) Resolve(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		return uint8(n), nil
	}
	if a != nil {
		if addr, ok := a.Devices[strings.ToLower(s)]; ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDevice, s)
}

// Name 反查地址对应的设备名
func (a *AddressBook) Name(addr uint8) (string, bool) {
	if a == nil {
		return "", false
	}
	for name, v := range a.Devices {
		if v == addr {
			return name, true
		}
	}
	return "", false
}
