package run

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

type diskRecord struct {
	Id       string         `json:"id"`
	SysPath  string         `json:"sysPath"`
	DevPath  string         `json:"devPath"`
	Size     int64          `json:"size"`
	Label    string         `json:"label"`
	Nickname string         `json:"nickname"`
	Flags    int            `json:"flags"`
	Volumes  []volumeRecord `json:"volumes"`
}

type volumeRecord struct {
	Id      string `json:"id"`
	DiskId  string `json:"diskId"`
	State   string `json:"state"`
	FsType  string `json:"fsType"`
	FsUuid  string `json:"fsUuid"`
	FsLabel string `json:"fsLabel"`
	Path    string `json:"path"`
}

// startHTTPServer serves debugging snapshots and prometheus metrics.
func startHTTPServer(vm *devicemanager.VolumeManager, addr string) {
	e := echo.New()
	e.HideBanner = true

	e.GET("/disks", func(c echo.Context) error {
		return c.JSON(http.StatusOK, snapshotDisks(vm))
	})
	e.GET("/volumes", func(c echo.Context) error {
		var vols []volumeRecord
		for _, d := range snapshotDisks(vm) {
			vols = append(vols, d.Volumes...)
		}
		return c.JSON(http.StatusOK, vols)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := e.Start(addr); err != nil {
		log.Infof("http server stopped: %v", err)
	}
}

func snapshotDisks(vm *devicemanager.VolumeManager) []diskRecord {
	lock := vm.Lock()
	lock.Lock()
	defer lock.Unlock()

	var records []diskRecord
	for _, disk := range vm.Disks() {
		rec := diskRecord{
			Id:       disk.Id(),
			SysPath:  disk.SysPath(),
			DevPath:  disk.DevPath(),
			Size:     disk.Size(),
			Label:    disk.Label(),
			Nickname: disk.Nickname(),
			Flags:    disk.Flags(),
		}
		for _, vol := range disk.Volumes() {
			rec.Volumes = append(rec.Volumes, volumeRecord{
				Id:      vol.Id(),
				DiskId:  vol.DiskId(),
				State:   vol.State().String(),
				FsType:  vol.FsType(),
				FsUuid:  vol.FsUuid(),
				FsLabel: vol.FsLabel(),
				Path:    vol.Path(),
			})
		}
		records = append(records, rec)
	}
	return records
}
