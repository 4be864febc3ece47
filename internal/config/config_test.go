/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/ringfleet/ringcache/internal/config"
)

var _ = Describe("Load", func() {
	It("fills in defaults when no file or env is present", func() {
		cfg, err := config.Load(viper.New(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.TargetCF).To(Equal(0.5))
		Expect(cfg.GrowthRate).To(Equal(5.0))
		Expect(cfg.InitialBackendCount).To(Equal(39))
		Expect(cfg.ServerLoadCutoffs).To(Equal([4]float64{0.25, 0.5, 0.75, 1.5}))
	})

	It("lets a config file override a default", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "ringcache.yaml")
		Expect(os.WriteFile(path, []byte("target_cf: 0.7\n"), 0o600)).To(Succeed())

		cfg, err := config.Load(viper.New(), path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.TargetCF).To(Equal(0.7))
	})

	It("rejects an out-of-order cutoff vector", func() {
		cfg, err := config.Load(viper.New(), "")
		Expect(err).NotTo(HaveOccurred())

		cfg.ServerLoadCutoffs = [4]float64{0.5, 0.25, 0.75, 1.5}
		Expect(config.Validate(cfg)).To(HaveOccurred())
	})

	It("rejects an unknown hash function id", func() {
		cfg, err := config.Load(viper.New(), "")
		Expect(err).NotTo(HaveOccurred())

		cfg.HashFunctionID = "SHA256"
		Expect(config.Validate(cfg)).To(HaveOccurred())
	})
})
