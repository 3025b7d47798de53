package devicemanager

import (
	"fmt"
	"strings"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/device"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/fs"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/partition"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/volume"
	"bocloud.com/cloudnative/droidvold/pkg/response"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// Disk is the state machine of one physical block device. It owns its
// child volumes; only the volume manager and its own scan routine mutate
// it.
type Disk struct {
	env *types.Env

	id        string
	eventPath string
	sysPath   string
	devPath   string

	major uint32
	minor uint32

	size     int64
	label    string
	nickname string
	flags    int

	created         bool
	justPartitioned bool
	// srdisk marks optical-like devices, which have no partition concept.
	srdisk bool

	volumes []*volume.Volume
}

// NewDisk builds an unregistered disk for a block-add event.
func NewDisk(env *types.Env, eventPath string, major, minor uint32, nickname string, flags int) *Disk {
	id := fmt.Sprintf("disk:%d,%d", major, minor)
	return &Disk{
		env:       env,
		id:        id,
		eventPath: eventPath,
		sysPath:   env.SysDir + "/" + eventPath,
		devPath:   env.DevDir + "/" + id,
		major:     major,
		minor:     minor,
		size:      -1,
		nickname:  nickname,
		flags:     flags,
		srdisk:    strings.HasPrefix(nickname, "sr"),
	}
}

func (d *Disk) Id() string          { return d.id }
func (d *Disk) EventPath() string   { return d.eventPath }
func (d *Disk) SysPath() string     { return d.sysPath }
func (d *Disk) DevPath() string     { return d.devPath }
func (d *Disk) Major() uint32       { return d.major }
func (d *Disk) Minor() uint32       { return d.minor }
func (d *Disk) Size() int64         { return d.size }
func (d *Disk) Label() string       { return d.label }
func (d *Disk) Nickname() string    { return d.nickname }
func (d *Disk) Flags() int          { return d.flags }
func (d *Disk) Created() bool       { return d.created }
func (d *Disk) IsOpticalLike() bool { return d.srdisk }

func (d *Disk) Volumes() []*volume.Volume { return d.volumes }

// SetJustPartitioned flags the next scan to silently pre-format every
// created volume.
func (d *Disk) SetJustPartitioned(justPartitioned bool) {
	d.justPartitioned = justPartitioned
}

// Create registers the disk: device node, creation broadcast, then probe
// and scan. Optical-like disks skip both; their media is discovered on
// mount.
func (d *Disk) Create() error {
	if d.created {
		return fmt.Errorf("%s already created: %w", d.id, types.ErrBadState)
	}

	if err := d.env.Nodes.CreateDeviceNode(d.devPath, d.major, d.minor); err != nil {
		log.Errorf("%s failed to create device node %s: %v", d.id, d.devPath, err)
		return err
	}
	d.created = true
	d.notifyEvent(response.DiskCreated, fmt.Sprintf("%d", d.flags))

	if d.srdisk {
		return nil
	}

	if err := d.ReadMetadata(); err != nil {
		log.Warnf("%s failed to read metadata: %v", d.id, err)
	}
	if err := d.ReadPartitions(); err != nil {
		log.Warnf("%s failed to read partitions: %v", d.id, err)
	}
	return nil
}

// Destroy tears down every child volume in registration order, then the
// disk itself and its device node.
func (d *Disk) Destroy() error {
	if !d.created {
		return fmt.Errorf("%s not created: %w", d.id, types.ErrBadState)
	}

	d.destroyAllVolumes()
	d.notifyEvent(response.DiskDestroyed, "")
	d.created = false

	if err := d.env.Nodes.DestroyDeviceNode(d.devPath); err != nil {
		log.Warnf("%s failed to destroy device node %s: %v", d.id, d.devPath, err)
	}
	return nil
}

// ReadMetadata refreshes size and label from the device and broadcasts the
// property changes.
func (d *Disk) ReadMetadata() error {
	d.size = device.ReadSize(d.devPath)

	label, err := device.ReadLabel(d.env, d.major, d.sysPath)
	if err != nil {
		return err
	}
	d.label = label

	d.notifyEvent(response.DiskSizeChanged, fmt.Sprintf("%d", d.size))
	d.notifyEvent(response.DiskLabelChanged, d.label)
	d.notifyEvent(response.DiskSysPathChanged, d.sysPath)
	return nil
}

// ReadPartitions replaces the child volumes with the scanner's output.
func (d *Disk) ReadPartitions() error {
	if d.srdisk {
		// No partition concept; expose the whole disc as one volume.
		log.Infof("%s trying entire srdisk as fake partition", d.id)
		d.destroyAllVolumes()
		d.createPublicVolume(d.major, d.minor)
		return nil
	}

	maxMinors, err := device.MaxMinors(d.env, d.major)
	if err != nil {
		return err
	}

	d.destroyAllVolumes()

	res, err := partition.Scan(d.env, d.devPath, d.sysPath, d.major, d.minor, maxMinors)
	if err != nil {
		d.notifyEvent(response.DiskScanned, "")
		d.justPartitioned = false
		return err
	}

	for _, intent := range res.Intents {
		if intent.DevName != "" {
			d.handleJustPublicPhysicalDevice(intent.DevName)
		} else {
			d.createPublicVolume(intent.Major, intent.Minor)
		}
	}

	// Last ditch effort: no table or no records, probe the whole device.
	if res.Table == partition.TableUnknown || !res.FoundParts {
		log.Warnf("%s has unknown partition table; trying entire device", d.id)

		fsType, _, _, perr := fs.ReadMetadataUntrusted(d.env, d.devPath)
		if perr == nil && fsType != "" {
			if devName, ok := device.IsJustPhysicalDevice(d.sysPath); ok {
				d.handleJustPublicPhysicalDevice(devName)
			} else {
				d.createPublicVolume(d.major, d.minor)
			}
		} else {
			log.Warnf("%s failed to identify, giving up", d.id)
		}
	}

	d.notifyEvent(response.DiskScanned, "")
	d.justPartitioned = false
	return nil
}

// FindVolume searches the child volumes and their stacked volumes depth
// first.
func (d *Disk) FindVolume(id string) *volume.Volume {
	for _, vol := range d.volumes {
		if vol.Id() == id {
			return vol
		}
		if stacked := vol.FindVolume(id); stacked != nil {
			return stacked
		}
	}
	return nil
}

// ListVolumes returns the ids of direct children of the given type.
func (d *Disk) ListVolumes(volType types.VolumeType) []string {
	var ids []string
	for _, vol := range d.volumes {
		if vol.Type() == volType {
			ids = append(ids, vol.Id())
		}
	}
	return ids
}

// UnmountAll sweeps every child; errors are logged, not propagated.
func (d *Disk) UnmountAll() error {
	for _, vol := range d.volumes {
		if vol.State() != types.StateMounted {
			continue
		}
		if err := vol.Unmount(); err != nil {
			log.Warnf("%s failed to unmount %s: %v", d.id, vol.Id(), err)
		}
	}
	return nil
}

// IsSrdiskMounted reports whether this optical-like disk has its media
// mounted.
func (d *Disk) IsSrdiskMounted() bool {
	if !d.srdisk {
		return false
	}
	for _, vol := range d.volumes {
		return vol.IsSrdiskMounted()
	}
	return false
}

func (d *Disk) createPublicVolume(major, minor uint32) {
	vol := volume.NewPublic(d.env, major, minor)
	d.adoptVolume(vol)
}

func (d *Disk) handleJustPublicPhysicalDevice(devName string) {
	vol := volume.NewPublicPhysical(d.env, devName)
	d.adoptVolume(vol)
}

func (d *Disk) adoptVolume(vol *volume.Volume) {
	if d.justPartitioned {
		// A freshly partitioned disk needs a filesystem before the user
		// sees it; run the format pass with broadcasts suppressed.
		log.Debugf("%s just partitioned; silently formatting", d.id)
		vol.SetSilent(true)
		if err := vol.Create(); err == nil {
			if err := vol.Format("auto"); err != nil {
				log.Warnf("%s silent format of %s failed: %v", d.id, vol.Id(), err)
			}
			_ = vol.Destroy()
		}
		vol.SetSilent(false)
	}

	d.volumes = append(d.volumes, vol)
	vol.SetDiskId(d.id)
	vol.SetSysPath(d.sysPath)
	if err := vol.Create(); err != nil {
		log.Warnf("%s failed to create volume %s: %v", d.id, vol.Id(), err)
	}
}

func (d *Disk) destroyAllVolumes() {
	for _, vol := range d.volumes {
		if err := vol.Destroy(); err != nil {
			log.Warnf("%s failed to destroy volume %s: %v", d.id, vol.Id(), err)
		}
	}
	d.volumes = nil
}

// notifyEvent broadcasts "<id> [value]".
func (d *Disk) notifyEvent(code int, value string) {
	payload := d.id
	if value != "" {
		payload = d.id + " " + value
	}
	d.env.Broadcast(code, payload)
}
