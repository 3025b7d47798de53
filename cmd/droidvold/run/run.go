package run

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"k8s.io/mount-utils"

	"bocloud.com/cloudnative/droidvold/pkg/configuration"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/server"
	"bocloud.com/cloudnative/droidvold/pkg/uevent"
	"bocloud.com/cloudnative/droidvold/runners"
	"bocloud.com/cloudnative/droidvold/utils"
	"bocloud.com/cloudnative/droidvold/utils/exec"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

func subMain() error {
	log.Info("droidvold firing up")

	cfg, err := configuration.Load(config.configDir)
	if err != nil {
		return err
	}
	if config.commandSocket != "" {
		cfg.CommandSocket = config.commandSocket
	}
	if config.httpAddr != "" {
		cfg.HTTPAddr = config.httpAddr
	}

	env := types.NewEnv(&exec.CommandExecutor{}, mount.New(""), nil, utils.DeviceNodes{})
	env.Contexts = types.SecurityContexts{
		Blkid:          config.blkidContext,
		BlkidUntrusted: config.blkidUntrustedContext,
		Fsck:           config.fsckContext,
		FsckUntrusted:  config.fsckUntrustedContext,
	}
	env.IsEmulator = utils.IsRunningInEmulator()
	env.Debug = config.debug

	vm := devicemanager.New(env)
	if err := vm.Start(); err != nil {
		log.Errorf("unable to start volume manager: %v", err)
		return err
	}
	for _, source := range cfg.Sources() {
		vm.AddDiskSource(source)
	}

	// The command listener doubles as the upstream broadcaster; metrics
	// tee in front of it.
	srv := server.New(vm, cfg.CommandSocket)
	env.Broadcaster = runners.NewMetricsExporter(srv, nil)

	reader, err := uevent.NewReader(vm.HandleBlockEvent)
	if err != nil {
		log.Errorf("unable to start uevent reader: %v", err)
		return err
	}
	reader.Start()

	uevent.SetMediaPollTime()
	uevent.Coldboot(env.SysDir + "/block")

	// Now that we're up, we can respond to commands.
	if err := srv.Start(); err != nil {
		log.Errorf("unable to start command listener: %v", err)
		return err
	}

	go startHTTPServer(vm, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)
	<-sig

	log.Info("droidvold exiting")
	srv.Stop()
	reader.Stop()

	lock := vm.Lock()
	lock.Lock()
	defer lock.Unlock()
	return vm.Shutdown()
}
