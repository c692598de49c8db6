package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/kernel/param"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/*
[kernel]
ncpu          = 8
tick_interval = 100ms

[kalloc]
phys_base    = 0x80000000
phys_size    = 16MiB
page_size    = 4096
distribution = boot-core
use_mmap     = true

[bio]
nbucket    = 13
nbuf       = 5
block_size = 1024

[disk]
devices     = 1:mem:2000, 2:data/fs.img
nblocks     = 2000
compression = none
checksum    = true

[logs]
log_error =
log_infos =
log_level = info
*/
type Cfg struct {
	Raw     *ini.File
	AppName string

	// kernel
	NCPU                 int    `default:"8" yaml:"ncpu" json:"ncpu,omitempty"`
	TickInterval         string `default:"100ms" yaml:"tick_interval" json:"tick_interval,omitempty"`
	TickIntervalDuration time.Duration

	// kalloc
	PhysBase     uint64 `default:"0x80000000" yaml:"phys_base" json:"phys_base,omitempty"`
	PhysSize     uint64 `default:"16MiB" yaml:"phys_size" json:"phys_size,omitempty"`
	PageSize     int    `default:"4096" yaml:"page_size" json:"page_size,omitempty"`
	Distribution string `default:"boot-core" yaml:"distribution" json:"distribution,omitempty"`
	UseMmap      bool   `default:"true" yaml:"use_mmap" json:"use_mmap,omitempty"`

	// bio
	NBucket   int `default:"13" yaml:"nbucket" json:"nbucket,omitempty"`
	NBuf      int `default:"5" yaml:"nbuf" json:"nbuf,omitempty"`
	BlockSize int `default:"1024" yaml:"block_size" json:"block_size,omitempty"`

	// disk
	Devices     []DeviceSpec
	NBlocks     uint32 `default:"2000" yaml:"nblocks" json:"nblocks,omitempty"`
	Compression string `default:"none" yaml:"compression" json:"compression,omitempty"`
	Checksum    bool   `default:"true" yaml:"checksum" json:"checksum,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

// DeviceSpec 块设备配置，格式 "id:mem:nblocks" 或 "id:path"
type DeviceSpec struct {
	ID      uint32
	Mem     bool
	NBlocks uint32 // 仅内存设备
	Path    string // 仅镜像文件
}

func (d DeviceSpec) String() string {
	if d.Mem {
		return fmt.Sprintf("%d:mem:%d", d.ID, d.NBlocks)
	}
	return fmt.Sprintf("%d:%s", d.ID, d.Path)
}

// ParseDeviceSpec 解析单个设备配置
func ParseDeviceSpec(s string) (DeviceSpec, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 || parts[1] == "" {
		return DeviceSpec{}, errors.Errorf("bad device spec %q", s)
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return DeviceSpec{}, errors.Wrapf(err, "bad device id in %q", s)
	}
	spec := DeviceSpec{ID: uint32(id)}
	if parts[1] == "mem" && len(parts) == 3 {
		n, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil || n == 0 {
			return DeviceSpec{}, errors.Errorf("bad block count in %q", s)
		}
		spec.Mem = true
		spec.NBlocks = uint32(n)
		return spec, nil
	}
	spec.Path = strings.Join(parts[1:], ":")
	return spec, nil
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:     ini.Empty(),
		AppName: "xkernel",

		NCPU:                 param.NCPU,
		TickInterval:         "100ms",
		TickIntervalDuration: 100 * time.Millisecond,

		PhysBase:     param.KERNBASE,
		PhysSize:     param.PHYSSIZE,
		PageSize:     param.PGSIZE,
		Distribution: "boot-core",
		UseMmap:      true,

		NBucket:   param.NBUCKET,
		NBuf:      param.NB,
		BlockSize: param.BSIZE,

		Devices:     []DeviceSpec{{ID: 1, Mem: true, NBlocks: 2000}},
		NBlocks:     2000,
		Compression: "none",
		Checksum:    true,

		LogLevel: "info",
	}
}

// Load 读取配置文件，.toml 后缀使用 TOML，其他按 ini 解析。文件不存在时使用默认配置。
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, err
	}
	cfg.Raw = iniFile

	parsers := []struct {
		name  string
		parse func(*ini.Section) error
	}{
		{"kernel", cfg.parseKernelCfg},
		{"kalloc", cfg.parseKallocCfg},
		{"bio", cfg.parseBioCfg},
		{"disk", cfg.parseDiskCfg},
		{"logs", cfg.parseLogsCfg},
	}
	for _, p := range parsers {
		if err := p.parse(cfg.Raw.Section(p.name)); err != nil {
			return nil, errors.WithMessagef(err, "section [%s]", p.name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	configFile := "conf/kernel.ini"
	if args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置\n", configFile)
		return ini.Empty(), nil
	}

	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		tree, err := toml.LoadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", configFile)
		}
		return tomlToIni(tree)
	}

	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", configFile)
	}
	logger.Debugf("成功加载配置文件: %s\n", configFile)
	return parsedFile, nil
}

// tomlToIni 把两层的 TOML 表转成 ini 段，数组用逗号连接
func tomlToIni(tree *toml.Tree) (*ini.File, error) {
	f := ini.Empty()
	for _, name := range tree.Keys() {
		sub, ok := tree.Get(name).(*toml.Tree)
		if !ok {
			return nil, errors.Errorf("toml: top-level key %q must be a table", name)
		}
		section := f.Section(name)
		for _, key := range sub.Keys() {
			var value string
			switch v := sub.Get(key).(type) {
			case []interface{}:
				items := make([]string, len(v))
				for i, item := range v {
					items[i] = fmt.Sprint(item)
				}
				value = strings.Join(items, ",")
			case *toml.Tree:
				return nil, errors.Errorf("toml: nested table %s.%s not supported", name, key)
			default:
				value = fmt.Sprint(v)
			}
			if _, err := section.NewKey(key, value); err != nil {
				return nil, errors.Wrapf(err, "toml: %s.%s", name, key)
			}
		}
	}
	return f, nil
}

func (cfg *Cfg) parseKernelCfg(section *ini.Section) error {
	cfg.NCPU = section.Key("ncpu").MustInt(cfg.NCPU)

	interval, err := valueAsString(section, "tick_interval", cfg.TickInterval)
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return errors.Wrapf(err, "tick_interval %q", interval)
	}
	cfg.TickInterval = interval
	cfg.TickIntervalDuration = d
	return nil
}

func (cfg *Cfg) parseKallocCfg(section *ini.Section) error {
	cfg.PhysBase = section.Key("phys_base").MustUint64(cfg.PhysBase)

	if section.HasKey("phys_size") {
		size, err := humanize.ParseBytes(section.Key("phys_size").String())
		if err != nil {
			return errors.Wrap(err, "phys_size")
		}
		cfg.PhysSize = size
	}
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.UseMmap = section.Key("use_mmap").MustBool(cfg.UseMmap)

	dist, err := valueAsString(section, "distribution", cfg.Distribution)
	if err != nil {
		return err
	}
	cfg.Distribution = dist
	return nil
}

func (cfg *Cfg) parseBioCfg(section *ini.Section) error {
	cfg.NBucket = section.Key("nbucket").MustInt(cfg.NBucket)
	cfg.NBuf = section.Key("nbuf").MustInt(cfg.NBuf)
	cfg.BlockSize = section.Key("block_size").MustInt(cfg.BlockSize)
	return nil
}

func (cfg *Cfg) parseDiskCfg(section *ini.Section) error {
	cfg.NBlocks = uint32(section.Key("nblocks").MustUint(uint(cfg.NBlocks)))
	cfg.Checksum = section.Key("checksum").MustBool(cfg.Checksum)

	compression, err := valueAsString(section, "compression", cfg.Compression)
	if err != nil {
		return err
	}
	cfg.Compression = compression

	if !section.HasKey("devices") {
		return nil
	}
	var devices []DeviceSpec
	seen := make(map[uint32]bool)
	for _, s := range section.Key("devices").Strings(",") {
		spec, err := ParseDeviceSpec(s)
		if err != nil {
			return err
		}
		if seen[spec.ID] {
			return errors.Errorf("device %d configured twice", spec.ID)
		}
		seen[spec.ID] = true
		devices = append(devices, spec)
	}
	cfg.Devices = devices
	return nil
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) error {
	var err error
	if cfg.LogError, err = valueAsString(section, "log_error", cfg.LogError); err != nil {
		return err
	}
	if cfg.LogInfos, err = valueAsString(section, "log_infos", cfg.LogInfos); err != nil {
		return err
	}
	cfg.LogLevel, err = valueAsString(section, "log_level", cfg.LogLevel)
	return err
}

// Validate 检查配置取值
func (cfg *Cfg) Validate() error {
	switch {
	case cfg.NCPU < 1:
		return errors.Errorf("ncpu must be positive, got %d", cfg.NCPU)
	case cfg.PageSize <= 0 || cfg.PageSize&(cfg.PageSize-1) != 0:
		return errors.Errorf("page_size must be a power of two, got %d", cfg.PageSize)
	case cfg.PhysBase%uint64(cfg.PageSize) != 0:
		return errors.Errorf("phys_base %#x not aligned to page_size %d", cfg.PhysBase, cfg.PageSize)
	case cfg.PhysSize < uint64(cfg.PageSize):
		return errors.Errorf("phys_size %s smaller than one page", humanize.IBytes(cfg.PhysSize))
	case cfg.NBucket < 1 || cfg.NBuf < 1:
		return errors.Errorf("nbucket and nbuf must be positive, got %d and %d", cfg.NBucket, cfg.NBuf)
	case cfg.BlockSize <= 0:
		return errors.Errorf("block_size must be positive, got %d", cfg.BlockSize)
	}
	return nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}
