/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConfig(t, `{
		"diskSources": [
			{"sysPattern": "/devices/platform/*ehci*", "nickname": "usb", "flags": ["adoptable"]},
			{"sysPattern": "/devices/platform/*sdhci*", "nickname": "sdcard", "flags": ["adoptable", "defaultPrimary"]}
		],
		"commandSocket": "/dev/socket/droidvold-test"
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/dev/socket/droidvold-test", cfg.CommandSocket)
	assert.Equal(t, ":8089", cfg.HTTPAddr)

	sources := cfg.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "/devices/platform/*ehci*", sources[0].SysPattern)
	assert.Equal(t, "usb", sources[0].Nickname)
	assert.Equal(t, types.FlagAdoptable, sources[0].Flags)
	assert.Equal(t, types.FlagAdoptable|types.FlagDefaultPrimary, sources[1].Flags)
}

func TestLoadMissingConfig(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadRejectsEmptyPattern(t *testing.T) {
	dir := writeConfig(t, `{"diskSources": [{"sysPattern": "", "nickname": "usb"}]}`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateSources(t *testing.T) {
	dir := writeConfig(t, `{"diskSources": [
		{"sysPattern": "/devices/a*", "nickname": "a"},
		{"sysPattern": "/devices/a*", "nickname": "b"}
	]}`)
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	dir := writeConfig(t, `{"diskSources": [
		{"sysPattern": "/devices/a*", "nickname": "a", "flags": ["bogus"]}
	]}`)
	_, err := Load(dir)
	assert.Error(t, err)
}
