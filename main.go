package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/zhukovaskychina/xkernel/logger"
	"github.com/zhukovaskychina/xkernel/server/conf"
	"github.com/zhukovaskychina/xkernel/server/kernel"
	"github.com/zhukovaskychina/xkernel/server/kernel/workload"
)

const help = `
******************************************************************************************
 __   ___  __                     _
 \ \ / / |/ /___ _ __ _ __   ___| |
  \ V /| ' // _ \ '__| '_ \ / _ \ |
  /   \| . \  __/ |  | | | |  __/ |
 /_/\_\_|\_\___|_|  |_| |_|\___|_|
******************************************************************************************
*帮助:
*1. --help         帮助
*2. --config       指定 kernel.ini / kernel.toml 配置文件
*3. --procs        并发线程数
*4. --ops          每个线程的操作次数
*5. --blocks       块压测使用的块数，0 表示整个设备
*6. --report       结果写入的 JSON 文件
******************************************************************************************
`

func main() {
	flagSet := flag.NewFlagSet("xkernel", flag.ContinueOnError)
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flagSet.PrintDefaults()
	}
	configPath := flagSet.StringP("config", "c", "", "配置文件路径")
	procs := flagSet.IntP("procs", "p", 16, "并发线程数")
	ops := flagSet.IntP("ops", "n", 10000, "每个线程的操作次数")
	blocks := flagSet.Uint32("blocks", 0, "块压测使用的块数")
	reportPath := flagSet.String("report", "", "结果 JSON 文件")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if err := run(*configPath, *procs, *ops, *blocks, *reportPath); err != nil {
		logger.Errorf("%s", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run(configPath string, procs, ops int, blocks uint32, reportPath string) error {
	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		return errors.Annotate(err, "load config")
	}

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		return errors.Annotate(err, "init logger")
	}
	logger.Infof("config loaded from %s, log level %s", conf.ConfigPath, config.LogLevel)

	k, err := kernel.Boot(config)
	if err != nil {
		return errors.Trace(err)
	}
	defer k.Shutdown()

	pages, err := workload.RunPages(k, procs, ops)
	if err != nil {
		return errors.Annotate(err, "page workload")
	}
	bufs, err := workload.RunBlocks(k, procs, ops, blocks)
	if err != nil {
		return errors.Annotate(err, "block workload")
	}

	if reportPath == "" {
		return nil
	}
	for _, r := range []*workload.Report{pages, bufs} {
		path := fmt.Sprintf("%s.%s.json", strings.TrimSuffix(reportPath, filepath.Ext(reportPath)), r.Workload)
		if err := r.WriteFile(path); err != nil {
			return errors.Trace(err)
		}
		logger.Infof("report written to %s", path)
	}
	return nil
}
