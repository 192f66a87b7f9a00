package config

import "strings"

// normalize expands filesystem paths and trims string fields so the rest of
// the system never sees "~" or stray whitespace.
func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(strings.TrimSpace(c.Paths.StagingDir)); err != nil {
		return err
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return err
	}
	if c.Paths.Socket, err = expandPath(strings.TrimSpace(c.Paths.Socket)); err != nil {
		return err
	}
	if binary := strings.TrimSpace(c.Paths.WorkerBinary); binary != "" && strings.ContainsAny(binary, "/\\~") {
		if c.Paths.WorkerBinary, err = expandPath(binary); err != nil {
			return err
		}
	} else {
		c.Paths.WorkerBinary = binary
	}

	c.Renderer.Binary = strings.TrimSpace(c.Renderer.Binary)
	c.Transcoder.Binary = strings.TrimSpace(c.Transcoder.Binary)
	c.Transcoder.FallbackCodec = strings.TrimSpace(c.Transcoder.FallbackCodec)
	c.Transcoder.FallbackPreset = strings.TrimSpace(c.Transcoder.FallbackPreset)
	c.Transcoder.FallbackAudio = strings.TrimSpace(c.Transcoder.FallbackAudio)
	c.Transcoder.FallbackBitrate = strings.TrimSpace(c.Transcoder.FallbackBitrate)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}
