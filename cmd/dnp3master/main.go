package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/pascaldekloe/dnp3/channel"
	"github.com/pascaldekloe/dnp3/internal/logctx"
	"github.com/pascaldekloe/dnp3/link"
	"github.com/pascaldekloe/dnp3/master"
	"github.com/pascaldekloe/dnp3/objects"
)

var CmdLog = log.New(os.Stderr, filepath.Base(os.Args[0])+": ", 0)

var (
	confFlag = flag.String("conf", "", "Load channel and association settings from an ini `file`.\nFlags below apply only when -conf is absent.")
	hostFlag = flag.String("host", "localhost", "Outstation host name or IP `address`.")
	portFlag = flag.Uint("port", 20000, "Outstation TCP `port`, per IEEE 1815 annex H's registered value.")

	masterAddrFlag = flag.Uint("master-addr", 1, "This channel's own link `address`.")
	outstAddrFlag  = flag.Uint("outstation-addr", 1024, "The outstation's link `address`.")

	integrityFlag = flag.Bool("integrity", true, "Run a startup integrity scan and print every reported object.")
)

// settings is what either -conf or the flag defaults resolve to.
type settings struct {
	host          string
	port          uint
	masterAddr    uint16
	outstationAddr uint16
}

func main() {
	log.SetFlags(0)
	flag.Parse()

	cfg := mustSettings()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	chanLog := logctx.New(nil, fmt.Sprintf("tcp:%s:%d", cfg.host, cfg.port))
	chanLog.SetLevel(logctx.Header)

	masterAddr, err := link.NewEndpointAddress(cfg.masterAddr)
	if err != nil {
		CmdLog.Fatal(err)
	}
	outstationAddr, err := link.NewEndpointAddress(cfg.outstationAddr)
	if err != nil {
		CmdLog.Fatal(err)
	}

	endpoints := []channel.Endpoint{channel.DialTCP(fmt.Sprintf("%s:%d", cfg.host, cfg.port))}
	handle := master.NewChannel(endpoints, master.ChannelConfig{
		MasterAddress:   masterAddr,
		ResponseTimeout: 5 * time.Second,
	}, chanLog.Logrus())

	printer := printHandler{}
	assocCfg := master.DefaultAssociationConfig()
	if err := handle.AddAssociation(outstationAddr, assocCfg, printer, master.NopAssociationHandler{}, master.NopAssociationInformation{}); err != nil {
		CmdLog.Fatal(err)
	}
	if err := handle.EnableCommunication(true); err != nil {
		CmdLog.Fatal(err)
	}

	if *integrityFlag {
		build := func(w *objects.HeaderWriter) error { return w.WriteAllObjects(60, 1) }
		if err := handle.QueueTask(outstationAddr, master.NewSingleReadTask(build, printer, nil)); err != nil {
			CmdLog.Print("queue integrity scan: ", err)
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	handle.Shutdown()
}

// printHandler reports every fragment it sees to standard output; it
// implements ReadHandler only.
type printHandler struct{}

func (printHandler) BeginFragment() { fmt.Println("--- fragment ---") }
func (printHandler) Headers(headers []objects.ObjectHeader) {
	for _, h := range headers {
		fmt.Printf("group=%d variation=%d qualifier=%s\n", h.Group, h.Variation, h.Qualifier)
	}
}
func (printHandler) EndFragment() {}

func mustSettings() settings {
	if *confFlag != "" {
		return mustSettingsFromIni(*confFlag)
	}
	switch {
	case *masterAddrFlag > 0xffef:
		CmdLog.Fatal("master-addr exceeds the reserved address range")
	case *outstAddrFlag > 0xffef:
		CmdLog.Fatal("outstation-addr exceeds the reserved address range")
	}
	return settings{
		host:           *hostFlag,
		port:           *portFlag,
		masterAddr:     uint16(*masterAddrFlag),
		outstationAddr: uint16(*outstAddrFlag),
	}
}

// mustSettingsFromIni loads [channel] host/port and [association] address
// keys from an ini file, the format samsamfire/gocanopen uses for its own
// node configuration.
func mustSettingsFromIni(path string) settings {
	f, err := ini.Load(path)
	if err != nil {
		CmdLog.Fatal("load config: ", err)
	}

	ch := f.Section("channel")
	as := f.Section("association")

	port, err := ch.Key("port").Uint()
	if err != nil {
		port = 20000
	}
	masterAddr, err := ch.Key("master_addr").Uint()
	if err != nil {
		masterAddr = 1
	}
	outstationAddr, err := as.Key("address").Uint()
	if err != nil {
		outstationAddr = 1024
	}

	return settings{
		host:           ch.Key("host").MustString("localhost"),
		port:           uint(port),
		masterAddr:     uint16(masterAddr),
		outstationAddr: uint16(outstationAddr),
	}
}
